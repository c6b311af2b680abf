// Package app wires configuration into a store and the domain services.
package app

import (
	"database/sql"
	"errors"
	"fmt"

	"assetdesk.io/internal/asset"
	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/config"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/docstore/badgerstore"
	"assetdesk.io/internal/docstore/pg"
	"assetdesk.io/internal/httpapi"
	"assetdesk.io/internal/maintenance"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/project"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/stock"
	"assetdesk.io/internal/stream"
	"assetdesk.io/internal/tenant"
	"assetdesk.io/internal/user"
)

// App holds the opened store and every service built on it.
type App struct {
	Store docstore.Store
	// DB is set for the postgres backend so readiness can ping it.
	DB   *sql.DB
	Deps httpapi.Deps

	closers []func() error
}

// Open selects the store backend and builds the services.
func Open(cfg config.Config, notifier auth.ResetNotifier) (*App, error) {
	a := &App{}
	store, err := a.openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if cfg.Breaker.Enabled && cfg.Store.Backend != "memory" {
		store = docstore.WithBreaker(store, docstore.BreakerConfig{
			Name:             cfg.Store.Backend,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
		})
	}
	a.Store = store

	tokens, err := auth.NewTokens(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.TokenTTL))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("tokens: %w", err)
	}
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("enforcer: %w", err)
	}

	recorder := audit.NewRecorder(store, audit.WithFeed(stream.New[audit.Entry](64)))
	identities := auth.NewProvider(store, notifier, auth.WithResetTTL(cfg.Auth.ResetTTL))
	tenants := tenant.NewService(store)
	users := user.NewService(store, identities, recorder)
	a.Deps = httpapi.Deps{
		Tokens:      tokens,
		Identities:  identities,
		Sessions:    session.NewResolver(tenants, users, recorder),
		Enforcer:    enforcer,
		Tenants:     tenants,
		Users:       users,
		Assets:      asset.NewService(store, recorder),
		Stock:       stock.NewService(store, recorder),
		Maintenance: maintenance.NewService(store, recorder),
		Projects:    project.NewService(store, recorder),
		Audit:       recorder,
	}
	return a, nil
}

func (a *App) openStore(cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Backend {
	case "postgres":
		s, err := pg.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.DB = s.DB()
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "badger":
		s, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "memory", "":
		obs.Logger().Warn().Msg("using the in-memory store; data is lost on exit")
		return docstore.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Close releases the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
