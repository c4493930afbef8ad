package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/config"
	"github.com/geocoder89/storefront/internal/db"
	httpx "github.com/geocoder89/storefront/internal/http"
	"github.com/geocoder89/storefront/internal/http/middlewares"
	"github.com/geocoder89/storefront/internal/observability"
	"github.com/geocoder89/storefront/internal/redisclient"
	"github.com/geocoder89/storefront/internal/repo/memory"
	"github.com/geocoder89/storefront/internal/repo/mongodb"
	"github.com/geocoder89/storefront/internal/repo/postgres"
	"github.com/geocoder89/storefront/internal/security"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type store interface {
	auth.UserStore
	Ping(ctx context.Context) error
}

func main() {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "err", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.OTelEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName: cfg.OTelServiceName,
			Endpoint:    cfg.OTelEndpoint,
			Env:         cfg.Env,
			SampleRatio: cfg.OTelSampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			sctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	users, closeStore, err := openStore(ctx, cfg, prom, log)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	})
	if err != nil {
		return err
	}

	svc, err := auth.NewService(auth.ServiceConfig{
		Store:         users,
		Hasher:        security.NewHasher(cfg.BcryptCost),
		Tokens:        tokens,
		Lockout:       auth.NewLockoutPolicy(cfg.MaxLoginAttempts, cfg.LockDuration),
		AdminSetupKey: cfg.AdminSetupKey,
		Logger:        log,
		Metrics:       prom,
	})
	if err != nil {
		return err
	}

	if err := db.EnsureAdminUser(ctx, users, svc, cfg, log); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lim, closeRedis := buildLimiters(ctx, cfg, log)
	defer closeRedis()

	router := httpx.NewRouter(log, httpx.Deps{
		Env:             cfg.Env,
		ServiceName:     cfg.OTelServiceName,
		Service:         svc,
		Ping:            users.Ping,
		Prom:            prom,
		Gatherer:        reg,
		LoginLimiter:    lim.login,
		RegisterLimiter: lim.register,
		ProfileLimiter:  lim.profile,
		CORSOrigins:     cfg.CORSAllowedOrigins,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		sctx, cancel := config.WithTimeout(shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case "mongo", "mongodb":
		repo, err := mongodb.NewUsersRepo(ctx, mongodb.Config{URI: cfg.MongoURI, Database: cfg.MongoDB}, prom)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}

		return repo, func() {
			cctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			if err := repo.Close(cctx); err != nil {
				log.Warn("mongo disconnect failed", "err", err)
			}
		}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DBURL, 10)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}

		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}

		return postgres.NewUsersRepo(pool, prom), pool.Close, nil

	case "memory":
		log.Warn("using in-memory credential store; accounts are lost on restart")
		return memory.NewUsersRepo(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

type limiters struct {
	login, register, profile middlewares.Limiter
}

// buildLimiters shares rate-limit windows through Redis when REDIS_ADDR is set
// and reachable, and falls back to per-process windows otherwise.
func buildLimiters(ctx context.Context, cfg config.Config, log *slog.Logger) (limiters, func()) {
	inProcess := limiters{
		login:    middlewares.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow),
		register: middlewares.NewRateLimiter(cfg.RegisterRateLimit, cfg.RegisterRateWindow),
		profile:  middlewares.NewRateLimiter(cfg.ProfileRateLimit, cfg.ProfileRateWindow),
	}

	if cfg.RedisAddr == "" {
		return inProcess, func() {}
	}

	rdb := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rdb.Ping(pctx); err != nil {
		log.Warn("redis unavailable; using in-process rate limits", "addr", cfg.RedisAddr, "err", err)
		_ = rdb.Close()
		return inProcess, func() {}
	}

	const prefix = "storefront:rl:"

	return limiters{
		login:    middlewares.NewRedisLimiter(rdb, prefix, cfg.LoginRateLimit, cfg.LoginRateWindow),
		register: middlewares.NewRedisLimiter(rdb, prefix, cfg.RegisterRateLimit, cfg.RegisterRateWindow),
		profile:  middlewares.NewRedisLimiter(rdb, prefix, cfg.ProfileRateLimit, cfg.ProfileRateWindow),
	}, func() { _ = rdb.Close() }
}
