package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seed(t *testing.T, s Store, docs ...Document) {
	t.Helper()
	var writes []Write
	for _, d := range docs {
		writes = append(writes, Write{Kind: WriteCreate, Path: Join("tenant", "t1", "assets", d["id"].(string)), Data: d})
	}
	if err := s.Commit(context.Background(), writes); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	s := NewMemory()
	_, err := s.Get(context.Background(), "tenant/t1/assets/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(context.Background(), "tenant/t1/assets"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for collection path, got %v", err)
	}
}

func TestMemoryQueryFiltersAndOrder(t *testing.T) {
	s := NewMemory()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seed(t, s,
		Document{"id": "a", "name": "Laptop 1", "status": "available", "cost": 1200.0, "created_at": base.Format(time.RFC3339Nano)},
		Document{"id": "b", "name": "Laptop 2", "status": "in_use", "cost": 900.0, "created_at": base.Add(time.Hour).Format(time.RFC3339Nano)},
		Document{"id": "c", "name": "Monitor", "status": "available", "cost": 300.0, "created_at": base.Add(90 * time.Millisecond).Format(time.RFC3339Nano)},
	)
	// nested documents must not leak into the parent collection
	if err := s.Commit(context.Background(), []Write{{Kind: WriteSet, Path: "tenant/t1/assets/a/notes/n1", Data: Document{"id": "n1"}}}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	got, err := s.Query(ctx, "tenant/t1/assets", Query{OrderBy: "created_at", Desc: true})
	if err != nil {
		t.Fatal(err)
	}
	if ids := idsOf(got); ids != "b,c,a" {
		t.Fatalf("order by created_at desc = %s", ids)
	}

	got, _ = s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{Eq("status", "available"), Gt("cost", 500)}})
	if ids := idsOf(got); ids != "a" {
		t.Fatalf("eq+gt = %s", ids)
	}

	got, _ = s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{In("status", "in_use", "lost")}})
	if ids := idsOf(got); ids != "b" {
		t.Fatalf("in = %s", ids)
	}

	got, _ = s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{Prefix("name", "Lap")}, OrderBy: "name"})
	if ids := idsOf(got); ids != "a,b" {
		t.Fatalf("prefix = %s", ids)
	}
	got, _ = s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{Prefix("name", "top")}})
	if len(got) != 0 {
		t.Fatal("prefix search must not match substrings")
	}

	got, _ = s.Query(ctx, "tenant/t1/assets", Query{OrderBy: "cost", Limit: 2})
	if ids := idsOf(got); ids != "c,b" {
		t.Fatalf("limit = %s", ids)
	}

	got, _ = s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{Lte("created_at", base.Add(time.Second))}, OrderBy: "id"})
	if ids := idsOf(got); ids != "a,c" {
		t.Fatalf("time range = %s", ids)
	}
}

func TestMemoryInOrUnset(t *testing.T) {
	s := NewMemory()
	seed(t, s,
		Document{"id": "a", "company_id": "c1"},
		Document{"id": "b", "company_id": "c2"},
		Document{"id": "c"},
		Document{"id": "d", "company_id": ""},
		Document{"id": "e", "company_id": nil},
	)
	ctx := context.Background()
	got, _ := s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{InOrUnset("company_id", "c1")}, OrderBy: "id"})
	if ids := idsOf(got); ids != "a,c,d,e" {
		t.Fatalf("in or unset = %s", ids)
	}
	got, _ = s.Query(ctx, "tenant/t1/assets", Query{Filters: []Filter{InOrUnset("company_id")}, OrderBy: "id"})
	if ids := idsOf(got); ids != "c,d,e" {
		t.Fatalf("unset only = %s", ids)
	}
}

func TestMemoryCommitIsAtomic(t *testing.T) {
	s := NewMemory()
	seed(t, s, Document{"id": "a", "qty": 5.0})

	err := s.Commit(context.Background(), []Write{
		{Kind: WriteMerge, Path: "tenant/t1/assets/a", Data: Document{"qty": 1}},
		{Kind: WriteCreate, Path: "tenant/t1/assets/a", Data: Document{"id": "a"}},
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	doc, _ := s.Get(context.Background(), "tenant/t1/assets/a")
	if doc["qty"] != 5.0 {
		t.Fatalf("partial commit leaked: qty=%v", doc["qty"])
	}
}

func TestMemoryMergeAndExpect(t *testing.T) {
	s := NewMemory()
	seed(t, s, Document{"id": "a", "qty": 5.0, "assigned_to": "u1"})
	ctx := context.Background()

	err := s.Commit(ctx, []Write{{
		Kind: WriteMerge, Path: "tenant/t1/assets/a",
		Data:   Document{"qty": 4, "assigned_to": nil},
		Expect: map[string]any{"qty": 5},
	}})
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, "tenant/t1/assets/a")
	if doc["qty"] != 4.0 {
		t.Fatalf("qty = %v", doc["qty"])
	}
	if _, ok := doc["assigned_to"]; ok {
		t.Fatal("nil merge value should remove the field")
	}

	err = s.Commit(ctx, []Write{{Kind: WriteMerge, Path: "tenant/t1/assets/a", Data: Document{"qty": 3}, Expect: map[string]any{"qty": 5}}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.Commit(ctx, []Write{{Kind: WriteMerge, Path: "tenant/t1/assets/zz", Data: Document{"qty": 3}}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("merge of missing doc: %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemory()
	seed(t, s, Document{"id": "a", "tags": []any{"x"}})
	doc, _ := s.Get(context.Background(), "tenant/t1/assets/a")
	doc["tags"].([]any)[0] = "mutated"
	again, _ := s.Get(context.Background(), "tenant/t1/assets/a")
	if again["tags"].([]any)[0] != "x" {
		t.Fatal("store leaked internal state")
	}
}

type failingStore struct{ calls int }

func (f *failingStore) Get(context.Context, string) (Document, error) {
	f.calls++
	return nil, errors.New("connection refused")
}
func (f *failingStore) Query(context.Context, string, Query) ([]Document, error) {
	f.calls++
	return nil, ErrNotFound
}
func (f *failingStore) Commit(context.Context, []Write) error { f.calls++; return nil }

func TestBreakerOpensOnBackendFailures(t *testing.T) {
	inner := &failingStore{}
	s := WithBreaker(inner, BreakerConfig{Name: "test", FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Get(ctx, "a/b"); err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if _, err := s.Get(ctx, "a/b"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once open, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open breaker must not reach the backend, calls=%d", inner.calls)
	}
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	inner := &failingStore{}
	s := WithBreaker(inner, BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		if _, err := s.Query(context.Background(), "a", Query{}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound passthrough, got %v", err)
		}
	}
}

func idsOf(docs []Document) string {
	var out string
	for i, d := range docs {
		if i > 0 {
			out += ","
		}
		out += d["id"].(string)
	}
	return out
}
