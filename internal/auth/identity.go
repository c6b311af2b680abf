// Package auth is the identity provider: password sign-in, access tokens
// and password resets. It knows users only by id, email and tenant; roles
// and profiles live in the user package.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/ids"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/tenant"
)

const (
	identityCollection = "identities"
	defaultResetTTL    = time.Hour
)

// Identity is the credential record behind a user. It lives outside any
// tenant namespace because sign-in happens before the tenant is known.
type Identity struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	TenantID       string    `json:"tenant_id"`
	PasswordHash   string    `json:"password_hash"`
	ResetTokenHash string    `json:"reset_token_hash,omitempty"`
	ResetExpiresAt time.Time `json:"reset_expires_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ResetNotifier delivers password reset tokens, typically by email.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, token string, expires time.Time) error
}

// LogNotifier writes reset requests to the log instead of sending mail.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(ctx context.Context, email, token string, expires time.Time) error {
	obs.Ctx(ctx).Info().Str("email", email).Time("expires_at", expires).Msg("password reset requested")
	return nil
}

// Provider manages identities stored in a document store.
type Provider struct {
	store    docstore.Store
	notifier ResetNotifier
	validate *validator.Validate
	resetTTL time.Duration
	now      func() time.Time
}

type ProviderOption func(*Provider)

// WithResetTTL sets how long a password reset token stays valid.
func WithResetTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) {
		if ttl > 0 {
			p.resetTTL = ttl
		}
	}
}

func NewProvider(store docstore.Store, notifier ResetNotifier, opts ...ProviderOption) *Provider {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	p := &Provider{
		store:    store,
		notifier: notifier,
		validate: validator.New(),
		resetTTL: defaultResetTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func identityPath(email string) string {
	return docstore.Join(identityCollection, email)
}

func (p *Provider) checkEmail(email string) error {
	if err := p.validate.Var(email, "required,email"); err != nil || strings.Contains(email, "/") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidInput, email)
	}
	return nil
}

// Register creates an identity for email in tenantID.
func (p *Provider) Register(ctx context.Context, email, password, tenantID string) (Identity, error) {
	email = NormalizeEmail(email)
	if err := p.checkEmail(email); err != nil {
		return Identity{}, err
	}
	if _, err := tenant.NewContext(tenantID); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	now := p.now()
	ident := Identity{
		UserID:       ids.New(),
		Email:        email,
		TenantID:     tenantID,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc, err := docstore.Encode(ident)
	if err != nil {
		return Identity{}, err
	}
	err = p.store.Commit(ctx, []docstore.Write{{Kind: docstore.WriteCreate, Path: identityPath(email), Data: doc}})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return Identity{}, fmt.Errorf("%w: %s", ErrAlreadyExists, email)
	}
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Lookup returns the identity for email.
func (p *Provider) Lookup(ctx context.Context, email string) (Identity, error) {
	email = NormalizeEmail(email)
	if err := p.checkEmail(email); err != nil {
		return Identity{}, err
	}
	doc, err := p.store.Get(ctx, identityPath(email))
	if errors.Is(err, docstore.ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	if err != nil {
		return Identity{}, err
	}
	var ident Identity
	if err := docstore.Decode(doc, &ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// SignIn checks email and password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Identity, error) {
	ident, err := p.Lookup(ctx, email)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	if !VerifyPassword(ident.PasswordHash, password) {
		return Identity{}, ErrInvalidCredentials
	}
	return ident, nil
}

// RequestPasswordReset issues a one-time reset token and hands it to the
// notifier. Unknown emails succeed silently.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	ident, err := p.Lookup(ctx, email)
	if errors.Is(err, ErrNotFound) {
		obs.Ctx(ctx).Debug().Msg("password reset for unknown email ignored")
		return nil
	}
	if err != nil {
		return err
	}
	token := uuid.NewString()
	expires := p.now().Add(p.resetTTL)
	err = p.store.Commit(ctx, []docstore.Write{{
		Kind: docstore.WriteMerge,
		Path: identityPath(ident.Email),
		Data: docstore.Document{
			"reset_token_hash": hashToken(token),
			"reset_expires_at": expires,
			"updated_at":       p.now(),
		},
	}})
	if err != nil {
		return err
	}
	return p.notifier.SendPasswordReset(ctx, ident.Email, token, expires)
}

// ResetPassword consumes a reset token and sets a new password.
func (p *Provider) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	ident, err := p.Lookup(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if ident.ResetTokenHash == "" || p.now().After(ident.ResetExpiresAt) {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(ident.ResetTokenHash)) != 1 {
		return ErrInvalidToken
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return p.store.Commit(ctx, []docstore.Write{{
		Kind: docstore.WriteMerge,
		Path: identityPath(ident.Email),
		Data: docstore.Document{
			"password_hash":    hash,
			"reset_token_hash": nil,
			"reset_expires_at": nil,
			"updated_at":       p.now(),
		},
		// A second reset request in between invalidates this token.
		Expect: map[string]any{"reset_token_hash": ident.ResetTokenHash},
	}})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
