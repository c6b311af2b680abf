// Package repo implements tenant-scoped repositories over a document store.
// A repository addresses documents at tenant/{tenantId}/{collection}/{id}
// and refuses every operation until it is bound to a tenant.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/ids"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/tenant"
)

var (
	// ErrTenantNotSet means the repository was used before WithTenant. It is
	// a wiring defect, never an empty result.
	ErrTenantNotSet = errors.New("repo: tenant not set")
	ErrNotFound     = errors.New("repo: not found")
	ErrConflict     = errors.New("repo: conflicting write")
	ErrCrossTenant  = errors.New("repo: batch spans tenants")
	ErrInvalidInput = errors.New("repo: invalid input")
)

// Meta is embedded by every tenant-scoped entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// Repository stores entities of type T in one collection.
type Repository[T any] struct {
	store      docstore.Store
	collection string
	tenant     tenant.Context
	now        func() time.Time
}

// New returns an unbound repository. Bind it with WithTenant before use.
func New[T any](store docstore.Store, collection string) *Repository[T] {
	if collection == "" || strings.Contains(collection, "/") {
		panic(fmt.Sprintf("repo: invalid collection name %q", collection))
	}
	return &Repository[T]{
		store:      store,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithTenant returns a copy bound to tc. The receiver is left untouched so a
// shared repository can serve concurrent sessions of different tenants.
func (r *Repository[T]) WithTenant(tc tenant.Context) *Repository[T] {
	cp := *r
	cp.tenant = tc
	return &cp
}

// WithClock returns a copy stamping metadata from now.
func (r *Repository[T]) WithClock(now func() time.Time) *Repository[T] {
	cp := *r
	cp.now = now
	return &cp
}

func (r *Repository[T]) Tenant() tenant.Context { return r.tenant }

func (r *Repository[T]) Collection() string { return r.collection }

func (r *Repository[T]) bound(ctx context.Context, op string) error {
	if !r.tenant.IsZero() {
		return nil
	}
	obs.Ctx(ctx).Error().
		Str("collection", r.collection).
		Str("op", op).
		Msg("repository used without a tenant")
	return fmt.Errorf("%w: %s.%s", ErrTenantNotSet, r.collection, op)
}

// CollectionPath returns tenant/{tenantId}/{collection}.
func (r *Repository[T]) CollectionPath() (string, error) {
	if r.tenant.IsZero() {
		return "", fmt.Errorf("%w: %s", ErrTenantNotSet, r.collection)
	}
	return r.tenant.Path(r.collection), nil
}

// Path returns the address of the entity with id.
func (r *Repository[T]) Path(id string) (string, error) {
	if r.tenant.IsZero() {
		return "", fmt.Errorf("%w: %s", ErrTenantNotSet, r.collection)
	}
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: id %q", ErrInvalidInput, id)
	}
	return r.tenant.Path(r.collection, id), nil
}

func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := r.bound(ctx, "get"); err != nil {
		return zero, err
	}
	path, err := r.Path(id)
	if err != nil {
		return zero, err
	}
	doc, err := r.store.Get(ctx, path)
	if err != nil {
		return zero, translate(err)
	}
	var v T
	if err := docstore.Decode(doc, &v); err != nil {
		return zero, err
	}
	return v, nil
}

// List returns the entities matching q, newest first unless q orders
// otherwise.
func (r *Repository[T]) List(ctx context.Context, q docstore.Query) ([]T, error) {
	if err := r.bound(ctx, "list"); err != nil {
		return nil, err
	}
	if q.OrderBy == "" {
		q.OrderBy, q.Desc = "created_at", true
	}
	docs, err := r.store.Query(ctx, r.tenant.Path(r.collection), q)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := docstore.Decode(doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Search matches entities whose field starts with term. Matching is
// case-sensitive and prefix only; there is no substring search.
func (r *Repository[T]) Search(ctx context.Context, field, term string, limit int) ([]T, error) {
	q := docstore.Query{OrderBy: field, Limit: limit}
	if term != "" {
		q = q.Where(docstore.Prefix(field, term))
	}
	return r.List(ctx, q)
}

// Create stamps metadata and a fresh id on v and stores it.
func (r *Repository[T]) Create(ctx context.Context, v T, actorID string) (T, error) {
	var zero T
	if err := r.bound(ctx, "create"); err != nil {
		return zero, err
	}
	op, created := r.CreateOp(v, actorID)
	if err := r.Batch(ctx, op); err != nil {
		return zero, err
	}
	return created, nil
}

// Update merges patch into the stored entity. Keys are document field
// names; a nil value removes the field.
func (r *Repository[T]) Update(ctx context.Context, id string, patch map[string]any, actorID string) error {
	if err := r.bound(ctx, "update"); err != nil {
		return err
	}
	return r.Batch(ctx, r.UpdateOp(id, patch, actorID))
}

func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if err := r.bound(ctx, "delete"); err != nil {
		return err
	}
	return r.Batch(ctx, r.DeleteOp(id))
}

// Batch commits ops atomically. Ops may come from any repository bound to
// the same tenant.
func (r *Repository[T]) Batch(ctx context.Context, ops ...Op) error {
	if err := r.bound(ctx, "batch"); err != nil {
		return err
	}
	writes := make([]docstore.Write, 0, len(ops))
	for _, op := range ops {
		if op.err != nil {
			return op.err
		}
		if op.tenant != r.tenant {
			return fmt.Errorf("%w: %s and %s", ErrCrossTenant, r.tenant, op.tenant)
		}
		writes = append(writes, op.write)
	}
	if err := r.store.Commit(ctx, writes); err != nil {
		return translate(err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// NewID mints an entity id.
func NewID() string { return ids.New() }
