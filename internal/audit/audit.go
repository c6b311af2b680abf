// Package audit records the append-only trail of state-changing actions.
// Entries are written once and never updated or deleted; the package has no
// operation that could do either.
package audit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/stream"
	"assetdesk.io/internal/tenant"
)

// Collection holds audit entries under each tenant.
const Collection = "audit_logs"

var ErrInvalidEntry = errors.New("audit: invalid entry")

type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionAssign   Action = "assign"
	ActionTransfer Action = "transfer"
	ActionApprove  Action = "approve"
	ActionExport   Action = "export"
	ActionLogin    Action = "login"
	ActionLogout   Action = "logout"
)

// Change is one field-level difference.
type Change struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Actor identifies who performed an action.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Entry struct {
	repo.Meta
	Action      Action       `json:"action" validate:"required"`
	Module      authz.Module `json:"module"`
	EntityType  string       `json:"entity_type" validate:"required"`
	EntityID    string       `json:"entity_id"`
	EntityName  string       `json:"entity_name,omitempty"`
	Description string       `json:"description" validate:"required"`
	Changes     []Change     `json:"changes,omitempty"`
	ActorID     string       `json:"actor_id" validate:"required"`
	ActorEmail  string       `json:"actor_email"`
	ActorName   string       `json:"actor_name"`
	TenantID    string       `json:"tenant_id"`
	RequestID   string       `json:"request_id,omitempty"`
}

// Recorder appends entries to a tenant's audit_logs collection.
type Recorder struct {
	entries  *repo.Repository[Entry]
	validate *validator.Validate
	feed     *stream.Hub[Entry]
}

type RecorderOption func(*Recorder)

// WithFeed publishes every stored entry to feed under its tenant.
func WithFeed(feed *stream.Hub[Entry]) RecorderOption {
	return func(r *Recorder) { r.feed = feed }
}

func NewRecorder(store docstore.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		entries:  repo.New[Entry](store, Collection),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed returns the live feed, or nil when none is attached.
func (r *Recorder) Feed() *stream.Hub[Entry] { return r.feed }

// Record stamps actor, tenant and request id on e and stores it. Failures are
// logged and counted before they are returned.
func (r *Recorder) Record(ctx context.Context, tc tenant.Context, actor Actor, e Entry) (Entry, error) {
	e.ActorID, e.ActorEmail, e.ActorName = actor.ID, actor.Email, actor.Name
	e.TenantID = tc.ID()
	e.RequestID = obs.RequestIDFromContext(ctx)
	e.Meta = repo.Meta{}

	stored, err := r.record(ctx, tc, e)
	log := obs.Ctx(ctx)
	if err != nil {
		obs.AuditFailed()
		log.Error().Err(err).
			Str("tenant_id", e.TenantID).
			Str("action", string(e.Action)).
			Str("entity_type", e.EntityType).
			Str("entity_id", e.EntityID).
			Msg("audit record failed")
		return Entry{}, err
	}
	log.Info().
		Str("type", "audit").
		Str("tenant_id", stored.TenantID).
		Str("actor_id", stored.ActorID).
		Str("action", string(stored.Action)).
		Str("module", stored.Module.String()).
		Str("entity_type", stored.EntityType).
		Str("entity_id", stored.EntityID).
		Int("changes", len(stored.Changes)).
		Msg(stored.Description)
	if r.feed != nil {
		r.feed.Publish(stored.TenantID, stored)
	}
	return stored, nil
}

func (r *Recorder) record(ctx context.Context, tc tenant.Context, e Entry) (Entry, error) {
	if !e.Module.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown module", ErrInvalidEntry)
	}
	if err := r.validate.Struct(e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return r.entries.WithTenant(tc).Create(ctx, e, e.ActorID)
}

// Emit records e and only logs a failure. Callers use it after a
// successful mutation whose outcome must not depend on the audit write.
func (r *Recorder) Emit(ctx context.Context, tc tenant.Context, actor Actor, e Entry) {
	_, _ = r.Record(ctx, tc, actor, e)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Action     Action
	Module     *authz.Module
	EntityType string
	EntityID   string
	ActorID    string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// List returns entries newest first.
func (r *Recorder) List(ctx context.Context, tc tenant.Context, f Filter) ([]Entry, error) {
	q := docstore.Query{OrderBy: "created_at", Desc: true, Limit: f.Limit}
	if f.Action != "" {
		q = q.Where(docstore.Eq("action", string(f.Action)))
	}
	if f.Module != nil {
		q = q.Where(docstore.Eq("module", f.Module.String()))
	}
	if f.EntityType != "" {
		q = q.Where(docstore.Eq("entity_type", f.EntityType))
	}
	if f.EntityID != "" {
		q = q.Where(docstore.Eq("entity_id", f.EntityID))
	}
	if f.ActorID != "" {
		q = q.Where(docstore.Eq("actor_id", f.ActorID))
	}
	if !f.Since.IsZero() {
		q = q.Where(docstore.Gte("created_at", f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		q = q.Where(docstore.Lt("created_at", f.Until.UTC()))
	}
	return r.entries.WithTenant(tc).List(ctx, q)
}

var skipDiff = map[string]bool{
	"created_at": true, "created_by": true, "updated_at": true, "updated_by": true,
}

// Diff compares the document forms of before and after field by field.
// Metadata fields are ignored. The result is ordered by field name.
func Diff(before, after any) ([]Change, error) {
	a, err := docstore.Encode(before)
	if err != nil {
		return nil, err
	}
	b, err := docstore.Encode(after)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		fields[k] = struct{}{}
	}
	for k := range b {
		fields[k] = struct{}{}
	}
	var changes []Change
	for field := range fields {
		if skipDiff[field] {
			continue
		}
		if !reflect.DeepEqual(a[field], b[field]) {
			changes = append(changes, Change{Field: field, Old: a[field], New: b[field]})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes, nil
}

// Describe joins non-empty parts into a human readable description.
func Describe(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
