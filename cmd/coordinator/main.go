package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/auth"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/collab"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/config"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/handler"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/hub"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/reconcile"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/room"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		pkglog.L().Fatal().Err(err).Msg("failed to load configuration")
	}

	processID := cfg.Server.ProcessID
	if processID == "" {
		processID = uuid.New().String()
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "live-coordinator",
		ProcessID:   processID,
	})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).
		Str(pkglog.FieldProcessID, processID).Msg("starting live-coordinator")

	// Presence registry on Redis; the bus shares its connection pool.
	store, err := registry.NewRedisStore(registry.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, registry.Tuning{
		OpTimeout:     cfg.Coordination.OpTimeout,
		RetryAttempts: cfg.Coordination.RetryAttempts,
		RetryBackoff:  cfg.Coordination.RetryBackoff,
		PresenceTTL:   cfg.Coordination.PresenceTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create registry store")
	}
	defer store.Close()

	eventBus, err := bus.New(bus.Config{
		Driver: cfg.Bus.Driver,
		Kafka: bus.KafkaConfig{
			Brokers:    cfg.Bus.Kafka.Brokers,
			GroupID:    cfg.Bus.Kafka.GroupID,
			Partitions: cfg.Bus.Kafka.Partitions,
		},
	}, store.Client())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create event bus")
	}
	defer eventBus.Close()

	platform := collab.NewHTTPClient(cfg.Platform.BaseURL, cfg.Platform.Timeout, cfg.Platform.ConversationTTL)

	streams := stream.NewMachine(store, eventBus, platform, platform)
	rooms := room.NewManager(store, eventBus, streams, platform, platform, platform)

	h := hub.NewHub(cfg.WebSocket)
	go h.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := handler.NewBridge(eventBus, h)
	if err := bridge.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start bus bridge")
	}

	reconciler := reconcile.New(store, eventBus, rooms, streams, cfg.Coordination.SweepInterval)
	if err := reconciler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start disconnect reconciler")
	}

	resolver := auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	wsHandler := handler.NewWSHandler(h, rooms, streams, store, eventBus, resolver, cfg.WebSocket, processID)
	httpHandler := handler.NewHTTPHandler(rooms, streams, store)

	router := mux.NewRouter()
	router.HandleFunc("/live", wsHandler.HandleWebSocket)
	router.HandleFunc("/api/v1/rooms/{room_id}/members", httpHandler.GetMembers).Methods("GET")
	router.HandleFunc("/api/v1/performers/{performer_id}/stream", httpHandler.GetStreamSession).Methods("GET")
	router.HandleFunc("/api/v1/live-streams", httpHandler.GetLiveStreams).Methods("GET")
	router.HandleFunc("/api/v1/identities/{identity_id}/presence", httpHandler.GetPresence).Methods("GET")
	router.HandleFunc("/health", httpHandler.HealthCheck).Methods("GET")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("live-coordinator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down live-coordinator")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		// Stop accepting new sockets first, then stop consuming events,
		// then let the bus and registry connections go.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}

		reconciler.Stop()
		bridge.Stop()
		cancel()
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("live-coordinator stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
