package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory implements Store in process. It backs tests and single-node demos.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Get(ctx context.Context, path string) (Document, error) {
	if _, _, err := SplitDoc(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Clone(doc), nil
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	prefix := collection + "/"
	m.mu.RLock()
	var docs []Document
	for path, doc := range m.docs {
		if rest, ok := strings.CutPrefix(path, prefix); ok && !strings.Contains(rest, "/") {
			docs = append(docs, Clone(doc))
		}
	}
	m.mu.RUnlock()
	return q.Apply(docs), nil
}

func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	writes, err := PrepareWrites(writes)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stage every write against an overlay first; nothing touches m.docs
	// unless the whole batch applies.
	type staged struct {
		doc     Document
		removed bool
	}
	overlay := make(map[string]staged, len(writes))
	order := make([]string, 0, len(writes))
	for _, w := range writes {
		cur, exists := m.docs[w.Path]
		if s, ok := overlay[w.Path]; ok {
			cur, exists = s.doc, !s.removed
		}
		next, remove, err := ApplyWrite(cur, exists, w)
		if err != nil {
			return err
		}
		if _, seen := overlay[w.Path]; !seen {
			order = append(order, w.Path)
		}
		overlay[w.Path] = staged{doc: next, removed: remove}
	}
	for _, path := range order {
		s := overlay[path]
		if s.removed {
			delete(m.docs, path)
			continue
		}
		m.docs[path] = s.doc
	}
	return nil
}

// Len reports the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
