package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/audit"
	"github.com/mossy-p/meeting-signaling/internal/handlers"
	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
)

var log = logging.Logger("main")

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Observers get their own context so they can drain after the hub stops
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	deps := handlers.Deps{Config: cfg}
	var observers []signaling.Sink
	var closers []func() error

	if cfg.Redis.Enabled {
		mirror, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Info("Redis connection established")
		go mirror.Run(workerCtx)
		observers = append(observers, mirror)
		closers = append(closers, mirror.Close)
		deps.Mirror = mirror
	}

	if cfg.AuditDBPath != "" {
		store, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			log.Fatalf("Failed to open call history: %v", err)
		}
		go store.Run(workerCtx)
		observers = append(observers, store)
		closers = append(closers, store.Close)
		deps.History = store
	}

	hub := signaling.NewHub(signaling.Options{
		MessageRate:  cfg.MessageRate,
		MessageBurst: cfg.MessageBurst,
		SendBuffer:   signaling.DefaultOptions().SendBuffer,
	}, observers...)
	go hub.Run(ctx)
	deps.Hub = hub

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(deps),
	}

	go func() {
		log.Infof("Starting signaling server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown: %v", err)
	}
	<-hub.Done()

	stopWorkers()
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Errorf("Close failed: %v", err)
		}
	}
}
