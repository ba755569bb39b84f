package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chartdb/collab-backend/internal/broadcast"
	"github.com/chartdb/collab-backend/internal/cleanup"
	"github.com/chartdb/collab-backend/internal/config"
	"github.com/chartdb/collab-backend/internal/identity"
	"github.com/chartdb/collab-backend/internal/lock"
	"github.com/chartdb/collab-backend/internal/registry"
	transportHttp "github.com/chartdb/collab-backend/internal/transport/http"
	"github.com/chartdb/collab-backend/internal/transport/http/middleware"
	"github.com/chartdb/collab-backend/internal/transport/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found")
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcast fan-out: in-process hub, extended across instances over
	// Redis pub/sub when configured. Redis being down never blocks startup.
	hub := broadcast.NewHub(logger)
	var bcast broadcast.Broadcaster = hub
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Warn("redis unreachable, falling back to in-process broadcast", zap.Error(err))
		} else {
			rb := broadcast.NewRedisBroadcaster(hub, rdb, uuid.NewString(), logger)
			bcast = rb
			go rb.Run(ctx)
			defer rdb.Close()
			logger.Info("redis broadcast relay enabled", zap.String("addr", cfg.RedisURL))
		}
	}

	// Core state: session registry and lock table, wired so leaving a
	// diagram releases the user's locks.
	lockTable := lock.NewTable(cfg.LockTTL, nil)
	arbiter := lock.NewArbiter(lockTable, bcast, logger)
	reg := registry.New(bcast, arbiter, nil, logger)

	janitor := cleanup.NewWorker(reg, arbiter, cfg.JanitorInterval, cfg.SessionTimeout, logger)
	go janitor.Start(ctx)

	resolver := identity.NewJWTResolver(cfg.JWTSecret)
	wsHandler := websocket.NewHandler(reg, arbiter, bcast, hub, resolver, logger)
	collabHandler := transportHttp.NewCollaboratorHandler(reg, arbiter)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.CORSMiddleware())

	router.GET("/health", transportHttp.HealthCheck)

	// WebSocket route (identity resolution handled inside the handler)
	router.GET("/ws", wsHandler.HandleWebSocket)

	// Read-only REST surface
	router.GET("/api/diagrams/:diagramId/collaborators", collabHandler.GetActiveCollaborators)
	router.GET("/api/tables/:tableId/lock", collabHandler.GetTableLock)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("server is shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
