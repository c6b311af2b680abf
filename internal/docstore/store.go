// Package docstore is the hierarchical document store the repositories sit
// on: documents addressed by slash-separated paths, filtered queries over one
// collection, and atomic multi-document commits.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("docstore: not found")
	ErrAlreadyExists = errors.New("docstore: already exists")
	ErrConflict      = errors.New("docstore: precondition failed")
	ErrInvalidPath   = errors.New("docstore: invalid path")
	ErrUnavailable   = errors.New("docstore: unavailable")
)

// Document is a decoded JSON object.
type Document map[string]any

// Store is implemented by every backend.
type Store interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)
	// Query returns the documents directly inside collection that satisfy q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Commit applies every write or none of them.
	Commit(ctx context.Context, writes []Write) error
}

type WriteKind uint8

const (
	// WriteCreate fails with ErrAlreadyExists when the document exists.
	WriteCreate WriteKind = iota + 1
	// WriteSet replaces or creates the document.
	WriteSet
	// WriteMerge updates top-level fields of an existing document; nil values
	// remove the field.
	WriteMerge
	// WriteDelete removes an existing document.
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteMerge:
		return "merge"
	case WriteDelete:
		return "delete"
	}
	return "unknown"
}

// Write is one element of an atomic commit.
type Write struct {
	Kind WriteKind
	Path string
	Data Document
	// Expect lists field values the stored document must hold for a merge or
	// delete to apply. A mismatch aborts the commit with ErrConflict.
	Expect map[string]any
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitDoc splits a document path into its collection path and id.
func SplitDoc(path string) (collection, id string, err error) {
	segs, err := segments(path)
	if err != nil {
		return "", "", err
	}
	if len(segs)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// ValidateCollection checks that path names a collection.
func ValidateCollection(path string) error {
	segs, err := segments(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, path)
	}
	return nil
}

func segments(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// ApplyWrite computes the next state of one document. Backends call it with
// the current state read inside their transaction so every backend shares the
// same write semantics.
func ApplyWrite(current Document, exists bool, w Write) (next Document, remove bool, err error) {
	switch w.Kind {
	case WriteCreate:
		if exists {
			return nil, false, fmt.Errorf("%w: %s", ErrAlreadyExists, w.Path)
		}
		return Clone(w.Data), false, nil
	case WriteSet:
		return Clone(w.Data), false, nil
	case WriteMerge:
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, w.Path)
		}
		if err := checkExpect(current, w); err != nil {
			return nil, false, err
		}
		next = Clone(current)
		for k, v := range w.Data {
			if v == nil {
				delete(next, k)
				continue
			}
			next[k] = cloneValue(v)
		}
		return next, false, nil
	case WriteDelete:
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, w.Path)
		}
		if err := checkExpect(current, w); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("docstore: unknown write kind %d", w.Kind)
}

func checkExpect(current Document, w Write) error {
	for field, want := range w.Expect {
		got, _ := lookup(current, field)
		if !equal(got, want) {
			return fmt.Errorf("%w: %s field %s changed", ErrConflict, w.Path, field)
		}
	}
	return nil
}

// PrepareWrites validates writes and normalizes their values to the JSON
// form stored documents use. Backends call it before opening a transaction.
func PrepareWrites(writes []Write) ([]Write, error) {
	out := make([]Write, 0, len(writes))
	for _, w := range writes {
		if _, _, err := SplitDoc(w.Path); err != nil {
			return nil, err
		}
		if w.Kind < WriteCreate || w.Kind > WriteDelete {
			return nil, fmt.Errorf("docstore: unknown write kind %d", w.Kind)
		}
		prepared := Write{Kind: w.Kind, Path: w.Path}
		if w.Data != nil {
			prepared.Data = make(Document, len(w.Data))
			for k, v := range w.Data {
				prepared.Data[k] = normalize(v)
			}
		}
		if len(w.Expect) > 0 {
			prepared.Expect = make(map[string]any, len(w.Expect))
			for k, v := range w.Expect {
				prepared.Expect[k] = normalize(v)
			}
		}
		out = append(out, prepared)
	}
	return out, nil
}
