// Package pg stores documents as jsonb rows in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"assetdesk.io/internal/docstore"
)

// Migrations holds the schema applied by cmd/migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
)

type Store struct {
	db *sql.DB
}

var _ docstore.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if _, _, err := docstore.SplitDoc(path); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select data from documents where path = $1`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return docstore.Unmarshal(raw)
}

// Query pushes top-level equality filters down as a jsonb containment match
// and evaluates the rest of the query in process.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	query := `select data from documents where collection = $1`
	args := []any{collection}
	if contains := containment(q); len(contains) > 0 {
		raw, err := docstore.Marshal(contains)
		if err != nil {
			return nil, err
		}
		query += ` and data @> $2::jsonb`
		args = append(args, raw)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := docstore.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s row: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

func containment(q docstore.Query) docstore.Document {
	out := docstore.Document{}
	for _, f := range q.Filters {
		if f.Op != docstore.OpEq || strings.Contains(f.Field, ".") {
			continue
		}
		switch f.Value.(type) {
		case string, bool, int, int64, float64:
			out[f.Field] = f.Value
		}
	}
	return out
}

// Commit locks every touched row, applies the shared write semantics and
// writes the results inside one serializable transaction.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) error {
	writes, err := docstore.PrepareWrites(writes)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		var (
			raw     []byte
			current docstore.Document
			exists  = true
		)
		err := tx.QueryRowContext(ctx, `select data from documents where path = $1 for update`, w.Path).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			exists = false
		case err != nil:
			return mapPgError(err)
		default:
			if current, err = docstore.Unmarshal(raw); err != nil {
				return fmt.Errorf("decode %s: %w", w.Path, err)
			}
		}

		next, remove, err := docstore.ApplyWrite(current, exists, w)
		if err != nil {
			return err
		}
		if remove {
			if _, err := tx.ExecContext(ctx, `delete from documents where path = $1`, w.Path); err != nil {
				return mapPgError(err)
			}
			continue
		}
		collection, id, _ := docstore.SplitDoc(w.Path)
		data, err := docstore.Marshal(next)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into documents (path, collection, doc_id, data)
			values ($1, $2, $3, $4)
			on conflict (path) do update
			set data = excluded.data, updated_at = now()
		`, w.Path, collection, id, data); err != nil {
			return mapPgError(err)
		}
	}
	return mapPgError(tx.Commit())
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, pgErr.Message)
		case pgErrSerializationFailure, pgErrDeadlockDetected:
			return fmt.Errorf("%w: %s", docstore.ErrConflict, pgErr.Message)
		}
	}
	return err
}
