package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"authzd/crypto"
	"authzd/server"
	"authzd/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHZD_CONFIG"), "Path to YAML config")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.Parse()

	logger, err := buildLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	path := *configPath
	explicit := path != ""
	if path == "" {
		path = "./config.yaml"
	}
	cfg, err := server.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			logger.Fatal("load config", zap.String("path", path), zap.Error(err))
		}
		cfg = server.Config{}
		cfg.ApplyDefaults()
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg server.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passwords := crypto.BcryptProvider{}
	signatures := crypto.RSAProvider{}

	var (
		tokenStore  storage.Store
		clientStore server.ClientStore
	)
	switch cfg.Storage.Backend {
	case server.BackendRedis:
		store, err := storage.NewRedisStore(ctx, cfg.Storage.Redis, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		tokenStore = store

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			DB:       cfg.Storage.Redis.DB,
			Username: cfg.Storage.Redis.Username,
			Password: cfg.Storage.Redis.Password,
		})
		defer func() { _ = redisClient.Close() }()
		clientStore = server.NewRedisClientStore(redisClient, passwords, signatures, cfg.Auth.BcryptCost)
	default:
		tokenStore = storage.NewMemoryStore(logger)
		clientStore = server.NewInMemoryClientStore(passwords, signatures, cfg.Auth.BcryptCost)
	}

	keys, err := server.NewSigningKeys(cfg.Keys.JWKSPath, logger)
	if err != nil {
		return fmt.Errorf("signing keys: %w", err)
	}

	auth := server.NewAuthenticator(clientStore, passwords, signatures, logger)
	tokens := server.NewTokenService(cfg, tokenStore, keys, logger)
	handlers := server.NewHandlers(auth, tokens, clientStore, keys, logger)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.NewRouter(handlers, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening",
			zap.String("addr", cfg.Server.ListenAddr),
			zap.String("issuer", cfg.Server.PublicURL),
			zap.String("backend", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
