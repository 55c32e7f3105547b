package safar

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mohamed-AlHabob/Safar/internal/middleware"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the domain producers under an authenticated router group.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/messages", h.SendMessage)
	r.Post("/messages/{id}/read", h.MarkMessageRead)
	r.Post("/notifications", h.CreateNotification)
	r.Post("/notifications/read-all", h.MarkAllNotificationsRead)
	r.Post("/bookings", h.CreateBooking)
	r.Post("/bookings/{id}/confirm", h.ConfirmBooking)
	r.Post("/bookings/{id}/cancel", h.CancelBooking)
}

type sendMessageRequest struct {
	ReceiverID uuid.UUID  `json:"receiver_id"`
	BookingID  *uuid.UUID `json:"booking_id,omitempty"`
	Content    string     `json:"content"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ReceiverID == uuid.Nil || req.Content == "" {
		http.Error(w, "receiver_id and content are required", http.StatusBadRequest)
		return
	}

	m, err := h.service.SendMessage(r.Context(), userID, req.ReceiverID, req.BookingID, req.Content)
	if err != nil {
		h.logger.Error("send message failed", zap.Error(err))
		http.Error(w, "could not send message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	messageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	marked, err := h.service.MarkMessageRead(r.Context(), messageID, userID)
	if err != nil {
		h.logger.Error("mark message read failed", zap.Error(err))
		http.Error(w, "could not mark message as read", http.StatusInternalServerError)
		return
	}
	if !marked {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "Message marked as read"})
}

type createNotificationRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" || req.Message == "" {
		http.Error(w, "type and message are required", http.StatusBadRequest)
		return
	}

	n, err := h.service.CreateNotification(r.Context(), userID, req.Type, req.Message)
	if err != nil {
		h.logger.Error("create notification failed", zap.Error(err))
		http.Error(w, "could not create notification", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	count, err := h.service.MarkAllNotificationsRead(r.Context(), userID)
	if err != nil {
		h.logger.Error("mark all notifications read failed", zap.Error(err))
		http.Error(w, "could not mark notifications as read", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

type createBookingRequest struct {
	ItemType   string  `json:"item_type"`
	ItemName   string  `json:"item_name"`
	TotalPrice float64 `json:"total_price"`
	Currency   string  `json:"currency"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch req.ItemType {
	case ItemPlace, ItemExperience, ItemFlight, ItemBox:
	default:
		http.Error(w, "invalid item_type", http.StatusBadRequest)
		return
	}
	if req.ItemName == "" {
		http.Error(w, "item_name is required", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	b, err := h.service.CreateBooking(r.Context(), &Booking{
		UserID:     userID,
		ItemType:   req.ItemType,
		ItemName:   req.ItemName,
		TotalPrice: req.TotalPrice,
		Currency:   req.Currency,
	})
	if err != nil {
		h.logger.Error("create booking failed", zap.Error(err))
		http.Error(w, "could not create booking", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	h.setBookingStatus(w, r, BookingConfirmed)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.setBookingStatus(w, r, BookingCancelled)
}

func (h *Handler) setBookingStatus(w http.ResponseWriter, r *http.Request, status string) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	b, err := h.service.SetBookingStatus(r.Context(), bookingID, userID, status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		h.logger.Error("update booking failed", zap.Error(err))
		http.Error(w, "could not update booking", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
