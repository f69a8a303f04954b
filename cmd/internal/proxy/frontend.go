package proxy

import (
	"log/slog"
	"net/http"
	"strings"

	"syncgate/cmd/internal/auth"
	"syncgate/cmd/internal/docname"
	"syncgate/cmd/internal/settings"
)

// Frontend claims WebSocket upgrades under its prefix and hands them to the Bridge.
// Everything else, including upgrades while proxying is not ready, goes to the next handler.
type Frontend struct {
	prefix   string
	settings settings.Source
	bridge   *Bridge
	log      *slog.Logger
}

// NewFrontend wires a Frontend onto bridge. Settings are resolved per request from src.
func NewFrontend(src settings.Source, bridge *Bridge) *Frontend {
	return &Frontend{
		prefix:   bridge.cfg.Prefix,
		settings: src,
		bridge:   bridge,
		log:      bridge.log,
	}
}

// Prefix is the mount path, always with leading and trailing slashes.
func (f *Frontend) Prefix() string { return f.prefix }

// Middleware wraps next.
func (f *Frontend) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, f.prefix) || !IsUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		st, err := f.settings.Settings(r.Context())
		if err != nil {
			f.log.Warn("proxy.settings.fail", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !st.ProxyReady() {
			next.ServeHTTP(w, r)
			return
		}

		doc := trailingSegment(r.URL.Path)
		if !docname.Valid(doc) {
			f.bridge.metrics.SessionRejected("protocol_violation")
			f.log.Info("proxy.reject.document", "path", r.URL.Path)
			http.Error(w, "invalid document", http.StatusBadRequest)
			return
		}

		backendURL, err := BackendURL(st.InternalBackendURL, doc)
		if err != nil {
			f.log.Warn("proxy.backend_url.fail", "err", err)
			next.ServeHTTP(w, r)
			return
		}

		p := auth.FromContext(r.Context())
		f.log.Info("proxy.route",
			"path", r.URL.Path,
			"backend_url", backendURL,
			"principal", p.LogName(),
		)

		// Serve logs its own failures.
		_ = f.bridge.Serve(w, r, Route{
			DocumentID: doc,
			BackendURL: backendURL,
			Principal:  p,
			Settings:   st,
		})
	})
}

// IsUpgrade reports whether r is a WebSocket opening handshake.
func IsUpgrade(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return headerHasToken(r.Header, "Connection", "upgrade") &&
		headerHasToken(r.Header, "Upgrade", "websocket")
}

func headerHasToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

func trailingSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
