package auth

import (
	"log/slog"
	"net/http"
)

// Middleware resolves the principal once per request and stores it in the request context.
// Lookup failures degrade to Anonymous; they never fail the request.
func Middleware(next http.Handler, res Resolver, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := Anonymous
		if res != nil {
			got, ok, err := res.Resolve(r)
			if err != nil {
				log.Warn("auth.resolve.fail", "path", r.URL.Path, "err", err)
			}
			if ok && got.ID != "" {
				p = got
			}
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
