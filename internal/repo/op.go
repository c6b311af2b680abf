package repo

import (
	"fmt"

	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/tenant"
)

// Op is one pending write of a batch.
type Op struct {
	tenant tenant.Context
	write  docstore.Write
	err    error
}

// Expect adds a precondition: the stored field must still equal value when
// the batch commits.
func (o Op) Expect(field string, value any) Op {
	expect := make(map[string]any, len(o.write.Expect)+1)
	for k, v := range o.write.Expect {
		expect[k] = v
	}
	expect[field] = value
	o.write.Expect = expect
	return o
}

// Path is the document the op writes.
func (o Op) Path() string { return o.write.Path }

func (o Op) Err() error { return o.err }

var reserved = map[string]bool{"id": true, "created_at": true, "created_by": true}

// CreateOp prepares the creation of v and returns v as it will be stored.
// An empty id field is filled with a fresh one.
func (r *Repository[T]) CreateOp(v T, actorID string) (Op, T) {
	var zero T
	if r.tenant.IsZero() {
		return Op{err: fmt.Errorf("%w: %s.create", ErrTenantNotSet, r.collection)}, zero
	}
	doc, err := docstore.Encode(v)
	if err != nil {
		return Op{tenant: r.tenant, err: err}, zero
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = NewID()
	}
	path, err := r.Path(id)
	if err != nil {
		return Op{tenant: r.tenant, err: err}, zero
	}
	now := r.now()
	doc["id"] = id
	doc["created_at"] = now
	doc["created_by"] = actorID
	doc["updated_at"] = now
	doc["updated_by"] = actorID

	var stored T
	if err := docstore.Decode(doc, &stored); err != nil {
		return Op{tenant: r.tenant, err: err}, zero
	}
	return Op{
		tenant: r.tenant,
		write:  docstore.Write{Kind: docstore.WriteCreate, Path: path, Data: doc},
	}, stored
}

// UpdateOp prepares a merge of patch into entity id.
func (r *Repository[T]) UpdateOp(id string, patch map[string]any, actorID string) Op {
	if r.tenant.IsZero() {
		return Op{err: fmt.Errorf("%w: %s.update", ErrTenantNotSet, r.collection)}
	}
	path, err := r.Path(id)
	if err != nil {
		return Op{tenant: r.tenant, err: err}
	}
	data := make(docstore.Document, len(patch)+2)
	for k, v := range patch {
		if reserved[k] {
			return Op{tenant: r.tenant, err: fmt.Errorf("%w: field %s is immutable", ErrInvalidInput, k)}
		}
		data[k] = v
	}
	data["updated_at"] = r.now()
	data["updated_by"] = actorID
	return Op{tenant: r.tenant, write: docstore.Write{Kind: docstore.WriteMerge, Path: path, Data: data}}
}

// DeleteOp prepares the hard delete of entity id.
func (r *Repository[T]) DeleteOp(id string) Op {
	if r.tenant.IsZero() {
		return Op{err: fmt.Errorf("%w: %s.delete", ErrTenantNotSet, r.collection)}
	}
	path, err := r.Path(id)
	if err != nil {
		return Op{tenant: r.tenant, err: err}
	}
	return Op{tenant: r.tenant, write: docstore.Write{Kind: docstore.WriteDelete, Path: path}}
}
