package badgerstore

import (
	"context"
	"errors"
	"testing"

	"assetdesk.io/internal/docstore"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCommitAndGet(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.Commit(ctx, []docstore.Write{
		{Kind: docstore.WriteCreate, Path: "tenants/t1/assets/a1", Data: docstore.Document{"id": "a1", "name": "Laptop", "cost": 1200}},
		{Kind: docstore.WriteCreate, Path: "tenants/t1/assets/a1/events/e1", Data: docstore.Document{"id": "e1"}},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	doc, err := s.Get(ctx, "tenants/t1/assets/a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["name"] != "Laptop" || doc["cost"] != float64(1200) {
		t.Fatalf("unexpected doc: %v", doc)
	}
	if _, err := s.Get(ctx, "tenants/t1/assets/missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuerySkipsNestedCollections(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	err := s.Commit(ctx, []docstore.Write{
		{Kind: docstore.WriteSet, Path: "tenants/t1/assets/a1", Data: docstore.Document{"id": "a1", "status": "available"}},
		{Kind: docstore.WriteSet, Path: "tenants/t1/assets/a2", Data: docstore.Document{"id": "a2", "status": "in_use"}},
		{Kind: docstore.WriteSet, Path: "tenants/t1/assets/a1/notes/n1", Data: docstore.Document{"id": "n1", "status": "available"}},
		{Kind: docstore.WriteSet, Path: "tenants/t2/assets/a3", Data: docstore.Document{"id": "a3", "status": "available"}},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	docs, err := s.Query(ctx, "tenants/t1/assets", docstore.Query{}.Where(docstore.Eq("status", "available")))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0]["id"] != "a1" {
		t.Fatalf("unexpected docs: %v", docs)
	}
}

func TestCommitIsAtomic(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.Commit(ctx, []docstore.Write{{Kind: docstore.WriteSet, Path: "tenants/t1/consumables/c1", Data: docstore.Document{"id": "c1", "quantity": 5}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.Commit(ctx, []docstore.Write{
		{Kind: docstore.WriteMerge, Path: "tenants/t1/consumables/c1", Data: docstore.Document{"quantity": 2}, Expect: map[string]any{"quantity": 5}},
		{Kind: docstore.WriteMerge, Path: "tenants/t1/consumables/c2", Data: docstore.Document{"quantity": 3}},
	})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	doc, err := s.Get(ctx, "tenants/t1/consumables/c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["quantity"] != float64(5) {
		t.Fatalf("partial commit leaked: %v", doc)
	}
}

func TestCommitSeesEarlierWritesOfBatch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	err := s.Commit(ctx, []docstore.Write{
		{Kind: docstore.WriteCreate, Path: "tenants/t1/projects/p1", Data: docstore.Document{"id": "p1", "progress": 0}},
		{Kind: docstore.WriteMerge, Path: "tenants/t1/projects/p1", Data: docstore.Document{"progress": 50}},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	doc, _ := s.Get(ctx, "tenants/t1/projects/p1")
	if doc["progress"] != float64(50) {
		t.Fatalf("unexpected progress: %v", doc["progress"])
	}
}
