package app

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRetryStartup_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryStartup(context.Background(), 5*time.Second, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryStartup: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestRetryStartup_SingleAttemptWhenDisabled(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	err := retryStartup(context.Background(), 0, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryStartup_StopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryStartup(ctx, time.Minute, func() error { return errors.New("down") })
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
}

func TestNewRedisClient(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	if err := PingRedis(context.Background(), client, time.Second); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := NewRedisClient(context.Background(), "not a url", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := t.TempDir() + "/syncgate.env"
	if err := os.WriteFile(path, []byte("SYNCGATE_TEST_FROM_FILE=file\nSYNCGATE_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SYNCGATE_TEST_PRESET", "env")
	t.Cleanup(func() { _ = os.Unsetenv("SYNCGATE_TEST_FROM_FILE") })

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := EnvString("SYNCGATE_TEST_FROM_FILE", ""); got != "file" {
		t.Fatalf("file value not loaded, got %q", got)
	}
	if got := EnvString("SYNCGATE_TEST_PRESET", ""); got != "env" {
		t.Fatalf("existing env must win, got %q", got)
	}
	if err := loadEnvFile(path + ".missing"); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if err := loadEnvFile(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}
