// Package app wires the syncgate runtime: config, logging, storage, the proxy
// frontend, the editing endpoints and the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"syncgate/cmd/internal/auth"
	"syncgate/cmd/internal/metrics"
	"syncgate/cmd/internal/proxy"
	"syncgate/cmd/internal/reconcile"
	"syncgate/cmd/internal/resources"
	"syncgate/cmd/internal/settings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the syncgate server runtime. It owns the DB pool and Redis client lifecycles.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	metrics  *metrics.Metrics
	settings settings.Source
	handler  http.Handler
}

// New constructs a fully wired App instance from config and logger.
//
// Missing Postgres or Redis degrade to in-memory stores. Only an unreachable
// configured dependency or a violated security policy is fatal.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.dbPool = pool
		log.Info("db.enabled.postgres_store")
	} else {
		log.Info("db.disabled.inmemory_store")
	}

	if cfg.RedisURL != "" {
		client, err := NewRedisClient(ctx, cfg.RedisURL, cfg.StartupRetry)
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.redis = client
		log.Info("redis.enabled")
	}

	if err := a.wire(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	src, err := a.settingsSource()
	if err != nil {
		return err
	}
	a.settings = src

	st, err := src.Settings(ctx)
	if err != nil {
		a.log.Warn("settings.load.fail", "err", err)
	} else {
		warnings, err := ValidateSecurityConfig(a.cfg, st)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			a.log.Warn("security.policy", "issue", w)
		}
		a.log.Info("settings.loaded",
			"proxy_enabled", st.ProxyEnabled,
			"proxy_ready", st.ProxyReady(),
			"credential_mode", st.CredentialMode().String(),
			"collab_wiki", st.CollabWiki,
			"collab_issues", st.CollabIssues,
		)
	}

	store, err := a.documentStore()
	if err != nil {
		return err
	}
	rec := reconcile.New(a.mailbox(), a.log, reconcile.WithMetrics(a.metrics))

	bridge := proxy.NewBridge(a.cfg.proxyConfig(), a.log, a.metrics)
	fe := proxy.NewFrontend(src, bridge)
	res := resources.NewHandler(a.log, store, rec, src, fe.Prefix())

	mux := http.NewServeMux()
	registerHTTP(mux, a, a.metrics, res)
	a.handler = buildHandler(mux, a, fe, a.resolver())
	return nil
}

func (a *App) settingsSource() (settings.Source, error) {
	fallback := settings.FromEnv()
	switch a.cfg.SettingsSource {
	case "postgres":
		if a.dbPool == nil {
			a.log.Warn("settings.postgres.unavailable", "fallback", "env")
			return settings.Static(fallback), nil
		}
		return settings.NewPostgresSource(a.dbPool, fallback, settings.WithSchema(a.cfg.DBSchema))
	default:
		return settings.Static(fallback), nil
	}
}

func (a *App) documentStore() (resources.Store, error) {
	if a.dbPool == nil {
		return resources.NewMemoryStore(), nil
	}
	return resources.NewPostgresStore(a.dbPool, resources.WithSchema(a.cfg.DBSchema))
}

func (a *App) mailbox() reconcile.Mailbox {
	if a.redis == nil {
		return reconcile.NewMemoryMailbox(a.cfg.MergeTTL)
	}
	return reconcile.NewRedisMailbox(a.redis, a.cfg.MergeTTL)
}

func (a *App) resolver() auth.Resolver {
	var chain auth.Chain
	if a.redis != nil {
		chain = append(chain, auth.NewRedisSessionResolver(a.redis, a.cfg.SessionCookie))
	}
	if a.cfg.TrustIdentityHeaders {
		a.log.Warn("auth.identity_headers.trusted")
		chain = append(chain, auth.HeaderResolver{})
	}
	return chain
}

// Handler returns the fully layered HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	// Hijacked proxy sessions are invisible to Shutdown; cancelling the base
	// context is what tells them to close.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
		"proxy_prefix", a.cfg.ProxyPrefix,
	)

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
		a.closeResources()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	cancelBase()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeResources()
		return err
	}

	a.closeResources()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
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
