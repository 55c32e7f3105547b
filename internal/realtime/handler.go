package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Mohamed-AlHabob/Safar/internal/middleware"
)

// CloseUnauthenticated rejects a handshake whose credential did not resolve
// to a user. Distinct from 1011 so clients can tell "log in again" apart
// from "server trouble".
const CloseUnauthenticated = 4001

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the frontend origins once they are pinned down in config.
		return true
	},
}

// TokenValidator is what we need from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (uuid.UUID, string, error)
}

type Handler struct {
	registry  Registry
	store     Store
	snaps     *SnapshotBuilder
	validator TokenValidator
	logger    *zap.Logger
}

func NewHandler(registry Registry, store Store, snaps *SnapshotBuilder,
	validator TokenValidator, logger *zap.Logger) *Handler {

	return &Handler{
		registry:  registry,
		store:     store,
		snaps:     snaps,
		validator: validator,
		logger:    logger,
	}
}

// ServeWS upgrades the connection, resolves the caller's identity and hands
// the socket to a Session. The credential is checked after the upgrade so
// rejection arrives as close code 4001 rather than a plain HTTP status.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	token := middleware.ExtractToken(r)
	userID, username, err := h.validator.ValidateToken(token)
	if token == "" || err != nil {
		h.logger.Warn("rejected unauthenticated websocket connection", zap.String("remote", r.RemoteAddr))
		closeWith(conn, CloseUnauthenticated, "authentication required")
		return
	}

	session := NewSession(userID, username, conn, h.registry, h.store, h.snaps, h.logger)
	if err := session.Start(); err != nil {
		h.logger.Error("websocket session setup failed", zap.String("user_id", userID.String()), zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "setup failed")
		return
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}
