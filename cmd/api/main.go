// Command api serves the dualauth HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dualauth/dualauth/internal/audit"
	"github.com/dualauth/dualauth/internal/auth"
	"github.com/dualauth/dualauth/internal/cache"
	"github.com/dualauth/dualauth/internal/config"
	"github.com/dualauth/dualauth/internal/handler"
	"github.com/dualauth/dualauth/internal/metrics"
	"github.com/dualauth/dualauth/internal/repository"
	"github.com/dualauth/dualauth/internal/server"
	"github.com/dualauth/dualauth/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("dualauth stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the stores, the auth service and the HTTP server, and blocks
// until the server shuts down. Connection errors are scrubbed of DSNs.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("connect postgres %s: %s", redactURL(cfg.DatabaseURL), sanitizeError(err, cfg.DatabaseURL))
	}
	logger.Info("connected to postgres", "database_url", redactURL(cfg.DatabaseURL))

	if cfg.RunMigrations {
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return fmt.Errorf("migrate: %s", sanitizeError(err, cfg.DatabaseURL))
		}
		logger.Info("migrations applied")
	}

	rdb, err := cache.New(ctx, cfg.RedisURL, cache.PoolConfig{PoolSize: cfg.RedisPoolSize})
	if err != nil {
		repo.Close()
		return fmt.Errorf("connect redis %s: %s", redactURL(cfg.RedisURL), sanitizeError(err, cfg.RedisURL))
	}
	logger.Info("connected to redis", "redis_url", redactURL(cfg.RedisURL))

	closeStores := func() {
		_ = rdb.Close()
		repo.Close()
	}

	codec, err := auth.NewTokenCodec([]byte(cfg.JWTSecret), auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		closeStores()
		return fmt.Errorf("token codec: %w", err)
	}
	hasher, err := newPasswordHasher(cfg)
	if err != nil {
		closeStores()
		return fmt.Errorf("password hasher: %w", err)
	}

	var (
		recorder       metrics.Recorder = metrics.NewNoop()
		metricsHandler *handler.MetricsHandler
	)
	if cfg.MetricsEnabled {
		mem := metrics.NewInMemory()
		recorder, metricsHandler = mem, handler.NewMetricsHandler(mem)
	}

	deps := service.AuthDeps{
		Store:    repo,
		Cache:    rdb,
		Codec:    codec,
		Hasher:   hasher,
		Recorder: recorder,
		Logger:   logger,
	}
	var auditWorker *audit.Worker
	if cfg.TokenAuditEnabled {
		deps.Auditor = audit.NewPublisher(rdb.Client(), logger, recorder)
		deps.Counter = repo
		auditWorker = audit.NewWorker(rdb.Client(), repo, logger, audit.NewConsumerID(), recorder, audit.WorkerConfig{
			BatchSize:    cfg.AuditBatchSize,
			BlockTimeout: cfg.AuditBlockTimeout,
		})
	}

	svc, err := service.NewAuthService(deps, service.AuthConfig{
		AccessTTL:    cfg.AccessTokenTTL(),
		RefreshTTL:   cfg.RefreshTokenTTL(),
		StoreTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		closeStores()
		return fmt.Errorf("auth service: %w", err)
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:             logger,
		Handler:            handler.New(),
		Health:             handler.NewHealthHandler(repo, rdb, logger),
		Auth:               handler.NewAuthHandler(svc, logger),
		Metrics:            metricsHandler,
		Authorizer:         svc,
		Limiter:            rdb,
		Recorder:           recorder,
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		RateLimitEnabled:   cfg.AuthRateLimitEnabled,
		RateLimitRPS:       cfg.AuthRateLimitRPS,
		RateLimitBurst:     cfg.AuthRateLimitBurst,
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Hooks run in reverse: the audit worker drains before the stores close.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	if auditWorker != nil {
		go func() {
			if err := auditWorker.Run(ctx); err != nil {
				logger.Error("audit worker exited", "error", err)
			}
		}()
		srv.OnShutdown("audit-worker", auditWorker.Shutdown)
	}

	logger.Info("dualauth starting",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"hash_algorithm", string(hasher.Algorithm()),
		"access_ttl", cfg.AccessTokenTTL().String(),
		"refresh_ttl", cfg.RefreshTokenTTL().String(),
		"token_audit", cfg.TokenAuditEnabled,
		"rate_limit", cfg.AuthRateLimitEnabled,
	)
	return srv.Run()
}

func newPasswordHasher(cfg *config.Config) (*auth.PasswordHasher, error) {
	return auth.NewPasswordHasher(auth.HasherConfig{
		Algorithm: auth.HashAlgorithm(cfg.PasswordHashAlgo),
		Argon2: auth.Argon2Params{
			Time:     cfg.Argon2Time,
			MemoryKB: cfg.Argon2MemoryKB,
			Threads:  cfg.Argon2Threads,
		},
		BcryptCost: cfg.BcryptCost,
	})
}
