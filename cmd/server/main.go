package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Mohamed-AlHabob/Safar/internal/config"
	"github.com/Mohamed-AlHabob/Safar/internal/db"
	"github.com/Mohamed-AlHabob/Safar/internal/logging"
	"github.com/Mohamed-AlHabob/Safar/internal/middleware"
	"github.com/Mohamed-AlHabob/Safar/internal/realtime"
	"github.com/Mohamed-AlHabob/Safar/internal/safar"
	"github.com/Mohamed-AlHabob/Safar/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Platform layer: Postgres + Redis.
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis")

	// Identity.
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService, logger)

	// Realtime delivery layer.
	registry := realtime.NewRedisRegistry(rdb, logger)
	go registry.Run()
	defer registry.Close()

	store := realtime.NewSQLStore(database.Conn)
	cache := realtime.NewRedisSnapshotCache(rdb)
	snapshots := realtime.NewSnapshotBuilder(store, cache, logger)
	publisher := realtime.NewPublisher(registry, logger)
	wsHandler := realtime.NewHandler(registry, store, snapshots, userService, logger)

	// Domain producers feeding the relay.
	safarRepo := safar.NewRepository(database.Conn)
	safarService := safar.NewService(safarRepo, store, publisher, snapshots, logger)
	safarHandler := safar.NewHandler(safarService, logger)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	// Public routes.
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// The websocket handshake does its own credential check so rejection
	// arrives as close code 4001 instead of an HTTP 401.
	r.Get("/ws", wsHandler.ServeWS)

	// Protected routes.
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/users/search", userHandler.SearchUsers)
		safarHandler.Routes(r)
	})

	logger.Info("server starting", zap.String("addr", cfg.HTTPAddr))
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
