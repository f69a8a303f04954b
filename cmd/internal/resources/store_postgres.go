package resources

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"syncgate/cmd/internal/reconcile"
	"syncgate/cmd/internal/settings"

	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgx used by PostgresStore; *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by PostgreSQL.
//
// Tables (in schema, default "syncgate"):
//
//	documents(kind, project_id, name, body, lock_version, updated_at)   pk (kind, project_id, name)
//	document_versions(kind, project_id, name, version, body)             pk (kind, project_id, name, version)
//
// The store does not own the pool.
type PostgresStore struct {
	db     DB
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema (default: "syncgate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("resources: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("resources: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(db DB, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: "syncgate"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, errors.New("resources: nil db")
	}
	return st, nil
}

func (s *PostgresStore) Load(ctx context.Context, k Key) (reconcile.Record, error) {
	var rec reconcile.Record
	err := s.db.QueryRow(ctx,
		`SELECT body, lock_version
		   FROM `+pgIdent(s.schema, "documents")+`
		  WHERE kind = $1 AND project_id = $2 AND name = $3`,
		string(k.Kind), k.project(), k.name(),
	).Scan(&rec.Text, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return reconcile.Record{}, ErrNotFound
	}
	if err != nil {
		return reconcile.Record{}, fmt.Errorf("load %s: %w", k.DocumentID(), err)
	}
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, k Key, u reconcile.Update) (reconcile.Record, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return reconcile.Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	docs := pgIdent(s.schema, "documents")
	versions := pgIdent(s.schema, "document_versions")
	kind, project, name := string(k.Kind), k.project(), k.name()

	var version int64
	switch {
	case u.Version != 0:
		err = tx.QueryRow(ctx,
			`UPDATE `+docs+`
			    SET body = $4, lock_version = lock_version + 1, updated_at = now()
			  WHERE kind = $1 AND project_id = $2 AND name = $3 AND lock_version = $5
			RETURNING lock_version`,
			kind, project, name, u.Text, u.Version,
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return reconcile.Record{}, s.explainMiss(ctx, tx, k)
		}

	case k.Kind == settings.KindWiki:
		err = tx.QueryRow(ctx,
			`INSERT INTO `+docs+` (kind, project_id, name, body, lock_version)
			 VALUES ($1, $2, $3, $4, 1)
			 ON CONFLICT (kind, project_id, name) DO UPDATE
			    SET body = EXCLUDED.body,
			        lock_version = `+docs+`.lock_version + 1,
			        updated_at = now()
			RETURNING lock_version`,
			kind, project, name, u.Text,
		).Scan(&version)

	default:
		err = tx.QueryRow(ctx,
			`UPDATE `+docs+`
			    SET body = $4, lock_version = lock_version + 1, updated_at = now()
			  WHERE kind = $1 AND project_id = $2 AND name = $3
			RETURNING lock_version`,
			kind, project, name, u.Text,
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return reconcile.Record{}, ErrNotFound
		}
	}
	if err != nil {
		return reconcile.Record{}, fmt.Errorf("save %s: %w", k.DocumentID(), err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+versions+` (kind, project_id, name, version, body)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT DO NOTHING`,
		kind, project, name, version, u.Text,
	); err != nil {
		return reconcile.Record{}, fmt.Errorf("record version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return reconcile.Record{}, err
	}
	return reconcile.Record{Text: u.Text, Version: version}, nil
}

// explainMiss tells a stale lock version apart from a missing row.
func (s *PostgresStore) explainMiss(ctx context.Context, tx pgx.Tx, k Key) error {
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT lock_version FROM `+pgIdent(s.schema, "documents")+`
		  WHERE kind = $1 AND project_id = $2 AND name = $3`,
		string(k.Kind), k.project(), k.name(),
	).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("save %s: %w", k.DocumentID(), err)
	default:
		return fmt.Errorf("%s at version %d: %w", k.DocumentID(), current, reconcile.ErrVersionMismatch)
	}
}

func (s *PostgresStore) TextAt(ctx context.Context, k Key, version int64) (string, bool, error) {
	var body string
	err := s.db.QueryRow(ctx,
		`SELECT body FROM `+pgIdent(s.schema, "document_versions")+`
		  WHERE kind = $1 AND project_id = $2 AND name = $3 AND version = $4`,
		string(k.Kind), k.project(), k.name(), version,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s version %d: %w", k.DocumentID(), version, err)
	}
	return body, true, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
