// Package app wires the folio server runtime: config, storage backends, auth
// session management, HTTP routes, metrics and the session event gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"folio/cmd/identity"
	authapi "folio/cmd/internal/auth/api"
	"folio/cmd/internal/auth/session"
	"folio/cmd/internal/realtime"
	"folio/cmd/security/password"
	"folio/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App is the folio server runtime. It owns the DB pool and Redis client.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  redis.UniversalClient

	registry    *prometheus.Registry
	httpMetrics *HTTPMetrics

	directory *identity.Directory
	manager   *session.Manager
	sweeper   *session.Sweeper

	auth *authapi.Handler
	ws   *realtime.WSGateway

	closeOnce sync.Once
}

// New constructs a fully wired App. Resources opened before a failure are released.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	backend, err := cfg.sessionBackend()
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.httpMetrics = NewHTTPMetrics(a.registry)

	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err = Migrate(ctx, a.pool); err != nil {
				return nil, err
			}
			log.Info("db.migrated")
		}
	}
	if cfg.RedisURL != "" {
		if a.rdb, err = NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
	}

	// Accounts.
	var users identity.Store = identity.NewMemoryStore()
	if a.pool != nil {
		if users, err = identity.NewPostgresStore(a.pool); err != nil {
			return nil, err
		}
	}
	if a.directory, err = identity.NewDirectory(users, pwCfg, log); err != nil {
		return nil, err
	}

	// Sessions and revocations.
	hasher := token.HasherFromEnv()
	var (
		sessions    session.SessionStore
		revocations session.RevocationStore
	)
	switch backend {
	case BackendRedis:
		sessions = session.NewRedisStore(a.rdb, sessCfg.RefreshTokenTTL)
		revocations = session.NewRedisRevocationStore(a.rdb, hasher)
	case BackendPostgres:
		sessions = session.NewPostgresStore(a.pool)
		revocations = session.NewPostgresRevocationStore(a.pool, hasher)
	default:
		sessions = session.NewMemoryStore()
		revocations = session.NewMemoryRevocationStore(hasher, nil)
	}
	log.Info("session.backend", "backend", backend, "db_enabled", a.pool != nil, "redis_enabled", a.rdb != nil, "hmac_digests", hasher.Keyed())

	codec, err := session.NewCodec(sessCfg)
	if err != nil {
		return nil, err
	}
	metrics := session.NewMetrics(a.registry)
	hub := realtime.NewHub(log, a.registry)

	a.manager, err = session.NewManager(sessCfg, codec, sessions, revocations, a.directory,
		session.WithMetrics(metrics),
		session.WithEventSink(hub),
	)
	if err != nil {
		return nil, err
	}
	a.sweeper = session.NewSweeper(revocations, sessCfg.SweepInterval, log, metrics)

	seeds, err := identity.ParseSeedUsers(cfg.SeedUsers)
	if err != nil {
		return nil, err
	}
	if len(seeds) > 0 {
		if _, err = a.directory.Seed(ctx, seeds); err != nil {
			return nil, err
		}
	}

	// HTTP adapters.
	opts := []authapi.HandlerOption{}
	if a.rdb != nil {
		th, err := authapi.NewRedisThrottler(a.rdb)
		if err != nil {
			return nil, err
		}
		opts = append(opts, authapi.WithThrottler(th))
	}
	if a.pool != nil {
		aud, err := authapi.NewPostgresAuditor(a.pool, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, authapi.WithAuditor(aud))
	}
	if a.auth, err = authapi.NewHandler(log, a.manager, authapi.LoadConfigFromEnv(), opts...); err != nil {
		return nil, err
	}
	if a.ws, err = realtime.NewWSGateway(log, hub, a.manager, realtime.LoadGatewayConfigFromEnv()); err != nil {
		return nil, err
	}

	return a, nil
}

// Manager exposes the session manager (e.g. for account deletion hooks).
func (a *App) Manager() *session.Manager { return a.manager }

// Run starts the sweeper and the HTTP server and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.sweeper.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// Close releases the DB pool and Redis client. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.rdb != nil {
			if err := a.rdb.Close(); err != nil {
				a.log.Error("redis.close.fail", "err", err)
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
	})
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
