package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/sfu-signaling/config"
	"github.com/mossy-p/sfu-signaling/internal/handlers"
	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/presence"
	"github.com/mossy-p/sfu-signaling/internal/redis"
	"github.com/mossy-p/sfu-signaling/internal/room"
)

var errConfig = errors.New("invalid configuration")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errConfig):
		slog.Error("failed to start", "err", err)
		os.Exit(2)
	default:
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the listener fails. Every resource it opens is
// released before it returns.
func run(ctx context.Context, args []string) error {
	// Load configuration
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("%w: logging: %w", errConfig, err)
	}
	slog.SetDefault(logger)

	policy, err := room.NewSchedulingPolicy(cfg.Negotiation)
	if err != nil {
		return fmt.Errorf("%w: negotiation: %w", errConfig, err)
	}

	engine, err := media.NewPionEngine(cfg.RTC, media.EngineOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("set up media engine: %w", err)
	}

	// Connect to Redis
	var store presence.Store = presence.NewMemoryStore()
	if cfg.Redis.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := redis.Connect(connectCtx, cfg.Redis)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		store = redis.NewPresenceStore(rdb, "")
		logger.Info("redis connection established", "host", cfg.Redis.Host)
	}

	rooms := room.NewRegistry(room.RegistryOptions{
		NewEngine:           func(string) media.Engine { return engine.NewRouter() },
		Policy:              policy,
		Presence:            store,
		ICEGatheringTimeout: cfg.Negotiation.ICEGatheringTimeout,
		Logger:              logger,
	})
	defer rooms.Close()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.RouterOptions{
		Rooms:          rooms,
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		AdminPassword:  cfg.AdminPassword,
		Logger:         logger,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting sfu signaling server",
		"port", cfg.Port,
		"policy", policy.String(),
		"announced_ip", cfg.RTC.AnnouncedIP,
		"codecs", engine.NewRouter().Codecs())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on :%s: %w", cfg.Port, err)
	}
	return nil
}
