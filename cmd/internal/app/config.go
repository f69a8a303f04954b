package app

import (
	"strings"
	"time"

	"syncgate/cmd/internal/proxy"
	"syncgate/cmd/internal/reconcile"
)

// Config contains all runtime configuration loaded from environment variables.
// Per-request options (proxy toggle, backend URL, secret, collab flags) live in
// settings.Settings instead.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	RedisURL string

	// StartupRetry bounds how long New keeps retrying Postgres and Redis connects.
	StartupRetry time.Duration

	// SettingsSource is "env" or "postgres".
	SettingsSource string

	// Refuse to start when proxying is enabled without a signing secret of >= 32 bytes.
	RequireSyncSecret bool

	ProxyPrefix         string
	WSAllowedOrigins    []string
	WSDevInsecure       bool
	WSDialTimeout       time.Duration
	WSWriteTimeout      time.Duration
	WSHeartbeatInterval time.Duration

	SessionCookie        string
	TrustIdentityHeaders bool

	MergeTTL time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SYNCGATE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SYNCGATE_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("SYNCGATE_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("SYNCGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SYNCGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SYNCGATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SYNCGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("SYNCGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("SYNCGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SYNCGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SYNCGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SYNCGATE_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("SYNCGATE_DB_SCHEMA", "syncgate"),

		ReadinessRequireDB: EnvBool("SYNCGATE_READINESS_REQUIRE_DB", false),

		RedisURL:     EnvString("SYNCGATE_REDIS_URL", ""),
		StartupRetry: EnvDuration("SYNCGATE_STARTUP_RETRY", 15*time.Second),

		SettingsSource:    strings.ToLower(EnvString("SYNCGATE_SETTINGS_SOURCE", "env")),
		RequireSyncSecret: EnvBool("SYNCGATE_REQUIRE_SYNC_SECRET", false),

		ProxyPrefix:         EnvString("SYNCGATE_PROXY_PREFIX", proxy.DefaultPrefix),
		WSAllowedOrigins:    EnvCSV("SYNCGATE_WS_ALLOWED_ORIGINS", ""),
		WSDevInsecure:       EnvBool("SYNCGATE_WS_DEV_INSECURE", false),
		WSDialTimeout:       EnvDuration("SYNCGATE_WS_DIAL_TIMEOUT", proxy.DefaultDialTimeout),
		WSWriteTimeout:      EnvDuration("SYNCGATE_WS_WRITE_TIMEOUT", proxy.DefaultWriteTimeout),
		WSHeartbeatInterval: EnvDuration("SYNCGATE_WS_HEARTBEAT_INTERVAL", 25*time.Second),

		SessionCookie:        EnvString("SYNCGATE_SESSION_COOKIE", "_session_id"),
		TrustIdentityHeaders: EnvBool("SYNCGATE_TRUST_IDENTITY_HEADERS", false),

		MergeTTL: EnvDuration("SYNCGATE_MERGE_TTL", reconcile.DefaultMergeTTL),
	}
}

func (c Config) proxyConfig() proxy.Config {
	return proxy.Config{
		Prefix:             c.ProxyPrefix,
		AllowedOrigins:     c.WSAllowedOrigins,
		InsecureSkipVerify: c.WSDevInsecure,
		DialTimeout:        c.WSDialTimeout,
		WriteTimeout:       c.WSWriteTimeout,
		HeartbeatInterval:  c.WSHeartbeatInterval,
	}
}
