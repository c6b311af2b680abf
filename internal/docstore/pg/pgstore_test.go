package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"assetdesk.io/internal/docstore"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestGet(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select data from documents where path").
		WithArgs("tenants/t1/assets/a1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"a1","name":"Laptop"}`)))

	doc, err := s.Get(context.Background(), "tenants/t1/assets/a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["name"] != "Laptop" {
		t.Fatalf("unexpected doc: %v", doc)
	}

	mock.ExpectQuery("select data from documents where path").
		WithArgs("tenants/t1/assets/missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	if _, err := s.Get(context.Background(), "tenants/t1/assets/missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryPushesEqualityDown(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`select data from documents where collection = \$1 and data @> \$2::jsonb`).
		WithArgs("tenants/t1/assets", []byte(`{"status":"available"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a1","status":"available","cost":100}`)).
			AddRow([]byte(`{"id":"a2","status":"available","cost":900}`)))

	q := docstore.Query{}.Where(docstore.Eq("status", "available"), docstore.Gt("cost", 500))
	docs, err := s.Query(context.Background(), "tenants/t1/assets", q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0]["id"] != "a2" {
		t.Fatalf("unexpected docs: %v", docs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitCreateAndDelete(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents where path = .* for update").
		WithArgs("tenants/t1/assets/a1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectExec("insert into documents").
		WithArgs("tenants/t1/assets/a1", "tenants/t1/assets", "a1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("select data from documents where path = .* for update").
		WithArgs("tenants/t1/assets/a0").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"a0"}`)))
	mock.ExpectExec("delete from documents where path").
		WithArgs("tenants/t1/assets/a0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), []docstore.Write{
		{Kind: docstore.WriteCreate, Path: "tenants/t1/assets/a1", Data: docstore.Document{"id": "a1"}},
		{Kind: docstore.WriteDelete, Path: "tenants/t1/assets/a0"},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitRollsBackOnPreconditionFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents where path = .* for update").
		WithArgs("tenants/t1/consumables/c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"c1","quantity":3}`)))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), []docstore.Write{{
		Kind:   docstore.WriteMerge,
		Path:   "tenants/t1/consumables/c1",
		Data:   docstore.Document{"quantity": 1},
		Expect: map[string]any{"quantity": 5},
	}})
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMapPgError(t *testing.T) {
	if err := mapPgError(&pgconn.PgError{Code: pgErrSerializationFailure}); !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("serialization failure should map to ErrConflict, got %v", err)
	}
	if err := mapPgError(&pgconn.PgError{Code: pgErrUniqueViolation}); !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("unique violation should map to ErrAlreadyExists, got %v", err)
	}
	if mapPgError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}
