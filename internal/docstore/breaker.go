package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"assetdesk.io/internal/obs"
)

// BreakerConfig tunes the circuit breaker placed in front of a remote store.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Name == "" {
		c.Name = "docstore"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

type breakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// WithBreaker fails calls fast with ErrUnavailable while the backend keeps
// failing. Domain outcomes (not found, conflicts) never trip it. There is no
// retry: callers surface the error and let the user try again.
func WithBreaker(next Store, cfg BreakerConfig) Store {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.SetBreakerState(name, int(to))
			obs.Logger().Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("document store breaker changed state")
		},
		IsSuccessful: isBackendHealthy,
	}
	return &breakerStore{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func isBackendHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, context.Canceled)
}

func (b *breakerStore) Get(ctx context.Context, path string) (Document, error) {
	out, err := b.cb.Execute(func() (any, error) { return b.next.Get(ctx, path) })
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return out.(Document), nil
}

func (b *breakerStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	out, err := b.cb.Execute(func() (any, error) { return b.next.Query(ctx, collection, q) })
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return out.([]Document), nil
}

func (b *breakerStore) Commit(ctx context.Context, writes []Write) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, b.next.Commit(ctx, writes) })
	return mapBreakerErr(err)
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
