package settings

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"syncgate/cmd/security/token"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used here; *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads options from a key/value settings table, cached for ttl.
//
// Table layout: {schema}.plugin_settings(name text primary key, value text not null).
// Missing rows keep the fallback value; a blank signing secret falls back to the environment.
type PostgresSource struct {
	db       Querier
	schema   string
	ttl      time.Duration
	fallback Settings
	now      func() time.Time

	mu       sync.Mutex
	cached   Settings
	cachedAt time.Time
	loaded   bool
}

// PostgresOption configures PostgresSource.
type PostgresOption func(*PostgresSource) error

// WithSchema sets the DB schema (default: "syncgate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSource) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return fmt.Errorf("%w: invalid schema identifier", ErrConfig)
		}
		s.schema = schema
		return nil
	}
}

// WithTTL sets the cache lifetime (default 30s).
func WithTTL(ttl time.Duration) PostgresOption {
	return func(s *PostgresSource) error {
		if ttl < 0 {
			return fmt.Errorf("%w: negative ttl", ErrConfig)
		}
		s.ttl = ttl
		return nil
	}
}

// NewPostgresSource constructs a PostgresSource; fallback supplies values for absent rows.
func NewPostgresSource(db Querier, fallback Settings, opts ...PostgresOption) (*PostgresSource, error) {
	if db == nil {
		return nil, errors.New("settings: nil db")
	}
	s := &PostgresSource{
		db:       db,
		schema:   "syncgate",
		ttl:      30 * time.Second,
		fallback: fallback,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Settings implements Source.
func (s *PostgresSource) Settings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.loaded && now.Sub(s.cachedAt) < s.ttl {
		return s.cached, nil
	}

	out, err := s.load(ctx)
	if err != nil {
		if s.loaded {
			// Serve the last good value; settings reads must not take the gateway down.
			return s.cached, nil
		}
		return Settings{}, err
	}

	s.cached = out
	s.cachedAt = now
	s.loaded = true
	return out, nil
}

func (s *PostgresSource) load(ctx context.Context) (Settings, error) {
	rows, err := s.db.Query(ctx, `SELECT name, value FROM `+pgx.Identifier{s.schema, "plugin_settings"}.Sanitize())
	if err != nil {
		return Settings{}, fmt.Errorf("settings query: %w", err)
	}
	defer rows.Close()

	out := s.fallback
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Settings{}, fmt.Errorf("settings scan: %w", err)
		}
		apply(&out, name, value)
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings rows: %w", err)
	}

	if strings.TrimSpace(out.SigningSecret) == "" {
		out.SigningSecret = token.SecretFromEnv()
	}
	return out, nil
}

func apply(s *Settings, name, value string) {
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(name) {
	case "proxy_enabled":
		s.ProxyEnabled = parseBool(value, s.ProxyEnabled)
	case "internal_backend_url":
		s.InternalBackendURL = value
	case "signing_secret":
		s.SigningSecret = value
	case "insecure_legacy_identity":
		s.InsecureLegacyIdentity = parseBool(value, s.InsecureLegacyIdentity)
	case "collab_wiki":
		s.CollabWiki = parseBool(value, s.CollabWiki)
	case "collab_issues":
		s.CollabIssues = parseBool(value, s.CollabIssues)
	}
}

func parseBool(v string, def bool) bool {
	// Plugin settings historically store checkboxes as "1"/"0".
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

var pgIdentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
