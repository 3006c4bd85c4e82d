package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrBlankCoding/ChannelChat/internal/compress"
	"github.com/MrBlankCoding/ChannelChat/internal/config"
	"github.com/MrBlankCoding/ChannelChat/internal/crypto"
	"github.com/MrBlankCoding/ChannelChat/internal/handler"
	"github.com/MrBlankCoding/ChannelChat/internal/hub"
	"github.com/MrBlankCoding/ChannelChat/internal/identity"
	"github.com/MrBlankCoding/ChannelChat/internal/log"
	"github.com/MrBlankCoding/ChannelChat/internal/notify"
	"github.com/MrBlankCoding/ChannelChat/internal/pipeline"
	"github.com/MrBlankCoding/ChannelChat/internal/secrets"
	"github.com/MrBlankCoding/ChannelChat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis holds the persisted master secret. The service still starts
	// without it, at the cost of an ephemeral key.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable")
			rdb.Close()
			rdb = nil
		}
		pingCancel()
	}
	if rdb != nil {
		defer rdb.Close()
	}

	masterKey, err := secrets.LoadMasterKey(ctx, cfg.Crypto.MasterKey, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load master key")
	}

	keys := crypto.NewKeyManager(masterKey, cfg.Crypto.RotationInterval)
	cipher := crypto.NewCipher(keys)

	comp, err := compress.New(cfg.Compression.Level, cfg.Compression.MinSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize compressor")
	}

	var st store.Store
	switch cfg.Store.Backend {
	case "memory":
		st = store.NewMemoryStore()
		logger.Info().Msg("using in-memory store")
	default:
		mongoStore, err := store.NewMongoStore(ctx, cfg.Mongo)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to document store")
		}
		st = mongoStore
		logger.Info().Str("database", cfg.Mongo.Database).Msg("connected to document store")
	}

	var gateway notify.Gateway = notify.NopGateway{}
	if cfg.Push.GatewayURL != "" {
		gateway = notify.NewHTTPGateway(cfg.Push.GatewayURL, cfg.Push.Timeout)
		logger.Info().Str("gateway", cfg.Push.GatewayURL).Msg("push notifications enabled")
	}

	registry := hub.NewRegistry(logger, hub.DefaultPresenceCacheTTL)
	svc := pipeline.NewService(registry, st, cipher, comp, gateway, logger)
	provider := identity.NewJWTProvider(cfg.Auth.JWTSecret)

	mux := http.NewServeMux()
	handler.NewWSHandler(registry, svc, provider, cfg.WebSocket).RegisterRoutes(mux)
	handler.NewHistoryHandler(svc, provider).RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("chat service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	svc.Close()
	if err := st.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	}

	logger.Info().Msg("chat service stopped")
}
