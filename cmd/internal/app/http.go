package app

import (
	"net/http"
	"time"

	"syncgate/cmd/internal/auth"
	"syncgate/cmd/internal/metrics"
	"syncgate/cmd/internal/proxy"
	"syncgate/cmd/internal/resources"
)

func registerHTTP(mux *http.ServeMux, a *App, m *metrics.Metrics, res *resources.Handler) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}
		if a.redis != nil {
			if err := PingRedis(r.Context(), a.redis, 2*time.Second); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", m.Handler())

	res.Register(mux)
}

// buildHandler layers the middleware chain around mux. Outermost first:
// request logging, security headers, principal resolution, then the proxy
// frontend, which claims upgrades under its prefix before the mux sees them.
func buildHandler(mux http.Handler, a *App, fe *proxy.Frontend, res auth.Resolver) http.Handler {
	var h http.Handler = mux
	h = fe.Middleware(h)
	h = auth.Middleware(h, res, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}
