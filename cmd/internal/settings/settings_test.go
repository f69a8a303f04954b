package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("SYNCGATE_PROXY_ENABLED", "true")
	t.Setenv("SYNCGATE_BACKEND_URL", " backend:1234 ")
	t.Setenv("SYNCGATE_SYNC_SECRET", "secret")
	t.Setenv("SYNCGATE_INSECURE_IDENTITY", "false")
	t.Setenv("SYNCGATE_COLLAB_WIKI", "false")
	t.Setenv("SYNCGATE_COLLAB_ISSUES", "")

	s := FromEnv()
	if !s.ProxyEnabled || s.InternalBackendURL != "backend:1234" || s.SigningSecret != "secret" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.Collab(KindWiki) {
		t.Fatalf("wiki collaboration must be disabled")
	}
	if !s.Collab(KindIssue) {
		t.Fatalf("issue collaboration must default to enabled")
	}
	if s.Collab(Kind("other")) {
		t.Fatalf("unknown kinds are never collaborative")
	}
}

func TestProxyReady(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Settings
		want bool
	}{
		{name: "all set", in: Settings{ProxyEnabled: true, InternalBackendURL: "b:1", SigningSecret: "s"}, want: true},
		{name: "disabled", in: Settings{ProxyEnabled: false, InternalBackendURL: "b:1", SigningSecret: "s"}, want: false},
		{name: "no url", in: Settings{ProxyEnabled: true, SigningSecret: "s"}, want: false},
		{name: "no secret", in: Settings{ProxyEnabled: true, InternalBackendURL: "b:1"}, want: false},
		{name: "insecure opt-in", in: Settings{ProxyEnabled: true, InternalBackendURL: "b:1", InsecureLegacyIdentity: true}, want: true},
	}

	for _, tc := range cases {
		if got := tc.in.ProxyReady(); got != tc.want {
			t.Fatalf("%s: ProxyReady()=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestPostgresSource_LoadsAndCaches(t *testing.T) {
	t.Setenv("SYNCGATE_SYNC_SECRET", "env-secret")

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT name, value FROM "syncgate"."plugin_settings"`).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}).
			AddRow("proxy_enabled", "1").
			AddRow("internal_backend_url", "ws://sync:1234/").
			AddRow("collab_issues", "0").
			AddRow("unknown_key", "ignored"))

	src, err := NewPostgresSource(mock, Settings{CollabWiki: true, CollabIssues: true}, WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewPostgresSource: %v", err)
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return clock }

	s, err := src.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if !s.ProxyEnabled || s.InternalBackendURL != "ws://sync:1234/" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.SigningSecret != "env-secret" {
		t.Fatalf("blank secret must fall back to env, got %q", s.SigningSecret)
	}
	if !s.CollabWiki || s.CollabIssues {
		t.Fatalf("collab flags mismatch: %+v", s)
	}

	// Within ttl: served from cache, no second query expected.
	clock = clock.Add(30 * time.Second)
	if _, err := src.Settings(context.Background()); err != nil {
		t.Fatalf("cached Settings: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSource_ServesStaleOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT name, value FROM`).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}).AddRow("signing_secret", "db-secret"))
	mock.ExpectQuery(`SELECT name, value FROM`).WillReturnError(errors.New("connection reset"))

	src, err := NewPostgresSource(mock, Settings{}, WithTTL(time.Second))
	if err != nil {
		t.Fatalf("NewPostgresSource: %v", err)
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return clock }

	first, err := src.Settings(context.Background())
	if err != nil || first.SigningSecret != "db-secret" {
		t.Fatalf("first load: %+v err=%v", first, err)
	}

	clock = clock.Add(2 * time.Second)
	second, err := src.Settings(context.Background())
	if err != nil {
		t.Fatalf("stale value expected, got err=%v", err)
	}
	if second != first {
		t.Fatalf("stale value mismatch: %+v vs %+v", second, first)
	}
}

func TestPostgresSource_FirstLoadError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT name, value FROM`).WillReturnError(errors.New("boom"))

	src, _ := NewPostgresSource(mock, Settings{})
	if _, err := src.Settings(context.Background()); err == nil {
		t.Fatalf("expected error on first failed load")
	}
}

func TestWithSchema_Invalid(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	if _, err := NewPostgresSource(mock, Settings{}, WithSchema("bad;schema")); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}
