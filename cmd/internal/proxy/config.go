package proxy

import (
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Config holds Bridge and Frontend tuning. Zero values fall back to defaults.
type Config struct {
	// Prefix is the mount path; upgrades under it are proxied.
	Prefix string

	// AllowedOrigins are browser origins allowed to open sessions cross-origin
	// (full origins like "https://app.example.com", or bare hosts).
	// Same-host origins are always accepted.
	AllowedOrigins []string

	// InsecureSkipVerify disables the origin check entirely. Dev only.
	InsecureSkipVerify bool

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// HeartbeatInterval enables client-leg pings when > 0.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// HTTPClient dials the backend leg. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = DefaultPrefix
	}
	if !strings.HasPrefix(c.Prefix, "/") {
		c.Prefix = "/" + c.Prefix
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return c
}

// originPatterns converts allowed origins into websocket.AcceptOptions.OriginPatterns.
// Full origins are matched as scheme://host[:port]; a bare host also admits any port.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case a == "":
		case strings.Contains(a, "://"):
			u, err := url.Parse(a)
			if err != nil || u.Host == "" {
				continue
			}
			seen[u.Scheme+"://"+u.Host] = struct{}{}
		default:
			seen[a] = struct{}{}
			if _, _, err := net.SplitHostPort(a); err != nil && a != "*" {
				seen[a+":*"] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
