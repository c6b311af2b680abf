// Package stream fans events out to live subscribers, partitioned by tenant.
package stream

import (
	"context"
	"sync"
)

// Hub delivers events published for a tenant to that tenant's subscribers
// only.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan T
	next   int
	buffer int
}

// New returns an empty hub. buffer is the per-subscriber queue length.
func New[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub[T]{subs: make(map[string]map[int]chan T), buffer: buffer}
}

// Subscribe registers a subscriber for tenantID. The channel is closed when
// ctx ends.
func (h *Hub[T]) Subscribe(ctx context.Context, tenantID string) <-chan T {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[int]chan T)
	}
	h.subs[tenantID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[tenantID], id)
		if len(h.subs[tenantID]) == 0 {
			delete(h.subs, tenantID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish never blocks: a subscriber whose queue is full misses the event.
func (h *Hub[T]) Publish(tenantID string, evt T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[tenantID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers counts live subscribers of tenantID.
func (h *Hub[T]) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}
