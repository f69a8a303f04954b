package resources

import (
	"context"
	"errors"
	"testing"

	"syncgate/cmd/internal/reconcile"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestMemoryStore_OptimisticLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	k := IssueKey(1)

	if _, err := s.Save(ctx, k, reconcile.Update{Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("issue create err=%v", err)
	}

	s.Seed(k, "v1")
	rec, err := s.Save(ctx, k, reconcile.Update{Text: "v2", Version: 1})
	if err != nil || rec.Version != 2 {
		t.Fatalf("save=%+v err=%v", rec, err)
	}
	if _, err := s.Save(ctx, k, reconcile.Update{Text: "stale", Version: 1}); !errors.Is(err, reconcile.ErrVersionMismatch) {
		t.Fatalf("stale err=%v", err)
	}

	if text, ok, _ := s.TextAt(ctx, k, 1); !ok || text != "v1" {
		t.Fatalf("TextAt(1)=%q %v", text, ok)
	}
	if _, ok, _ := s.TextAt(ctx, k, 9); ok {
		t.Fatalf("TextAt(9) found")
	}

	wk := WikiKey(2, "New")
	if rec, err := s.Save(ctx, wk, reconcile.Update{Text: "page"}); err != nil || rec.Version != 1 {
		t.Fatalf("wiki create=%+v err=%v", rec, err)
	}
}

func TestKey_DocumentID(t *testing.T) {
	t.Parallel()

	cases := map[string]Key{
		"issue-42":             IssueKey(42),
		"wiki-3-home":          WikiKey(3, "Home"),
		"wiki-0-release-notes": WikiKey(0, "Release Notes"),
	}
	for want, k := range cases {
		if got := k.DocumentID(); got != want {
			t.Fatalf("%+v: DocumentID=%q want %q", k, got, want)
		}
	}
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	s, err := NewPostgresStore(mock)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s, mock
}

func TestPostgresStore_Load(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT body, lock_version`).
		WithArgs("wiki", int64(3), "Home").
		WillReturnRows(pgxmock.NewRows([]string{"body", "lock_version"}).AddRow("hello", int64(4)))
	mock.ExpectQuery(`SELECT body, lock_version`).
		WithArgs("issue", int64(0), "9").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.Load(context.Background(), WikiKey(3, "Home"))
	if err != nil || rec.Text != "hello" || rec.Version != 4 {
		t.Fatalf("load=%+v err=%v", rec, err)
	}
	if _, err := s.Load(context.Background(), IssueKey(9)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_SaveWithLockVersion(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE "syncgate"."documents"`).
		WithArgs("wiki", int64(3), "Home", "new", int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"lock_version"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO "syncgate"."document_versions"`).
		WithArgs("wiki", int64(3), "Home", int64(5), "new").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, err := s.Save(context.Background(), WikiKey(3, "Home"), reconcile.Update{Text: "new", Version: 4})
	if err != nil || rec.Version != 5 || rec.Text != "new" {
		t.Fatalf("save=%+v err=%v", rec, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_SaveStaleVersion(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE "syncgate"."documents"`).
		WithArgs("issue", int64(0), "42", "mine", int64(4)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT lock_version`).
		WithArgs("issue", int64(0), "42").
		WillReturnRows(pgxmock.NewRows([]string{"lock_version"}).AddRow(int64(6)))
	mock.ExpectRollback()

	_, err := s.Save(context.Background(), IssueKey(42), reconcile.Update{Text: "mine", Version: 4})
	if !errors.Is(err, reconcile.ErrVersionMismatch) {
		t.Fatalf("err=%v want version mismatch", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_SaveMissingIssue(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE "syncgate"."documents"`).
		WithArgs("issue", int64(0), "5", "x").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	if _, err := s.Save(context.Background(), IssueKey(5), reconcile.Update{Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_TextAt(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT body FROM "syncgate"."document_versions"`).
		WithArgs("wiki", int64(3), "Home", int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow("base"))
	mock.ExpectQuery(`SELECT body FROM "syncgate"."document_versions"`).
		WithArgs("wiki", int64(3), "Home", int64(1)).
		WillReturnError(pgx.ErrNoRows)

	text, ok, err := s.TextAt(context.Background(), WikiKey(3, "Home"), 5)
	if err != nil || !ok || text != "base" {
		t.Fatalf("TextAt=%q %v %v", text, ok, err)
	}
	if _, ok, err := s.TextAt(context.Background(), WikiKey(3, "Home"), 1); ok || err != nil {
		t.Fatalf("pruned version ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithSchema_Invalid(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	if _, err := NewPostgresStore(mock, WithSchema("bad;drop")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
}
