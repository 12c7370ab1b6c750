package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

// ActivateParams carries everything the activation transaction writes:
// the status flip, the sealed token record, and the consent entry. The
// implementation must apply all of it atomically so an active
// integration without a token record is never observable.
type ActivateParams struct {
	IntegrationID     int64
	ProviderAccountID string
	GrantedScopes     []string
	Token             domain.TokenRecord
}

// IntegrationRepository persists the integration aggregate.
type IntegrationRepository interface {
	// CreatePending opens a new pending row for (user, provider),
	// superseding any prior pending row for the same pair.
	CreatePending(ctx context.Context, userID int64, provider domain.Provider, scopes []string) (domain.Integration, error)
	Get(ctx context.Context, id int64) (domain.Integration, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Integration, error)
	// Activate transitions a pending row to active in one transaction:
	// supersede the prior active row for the pair, flip the status,
	// upsert the token record, append the consent record.
	Activate(ctx context.Context, params ActivateParams) (domain.Integration, error)
	MarkExpired(ctx context.Context, id int64) error
	MarkRevoked(ctx context.Context, id int64) error
	TouchRefreshed(ctx context.Context, id int64) error
	// ListExpiringActive returns ids of active integrations whose
	// renewable token expires at or before the cutoff.
	ListExpiringActive(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// TokenRepository stores sealed token records. Plaintext never crosses
// this interface.
type TokenRepository interface {
	Get(ctx context.Context, integrationID int64) (domain.TokenRecord, error)
	// Rotate replaces the access token ciphertext and expiry; refresh
	// ciphertext is replaced only when non-nil.
	Rotate(ctx context.Context, integrationID int64, access, refresh []byte, expiresAt time.Time) error
	Delete(ctx context.Context, integrationID int64) error
}

// ConsentRepository reads the append-only consent history.
type ConsentRepository interface {
	ListByIntegration(ctx context.Context, integrationID int64) ([]domain.ConsentRecord, error)
}

// AuditRepository appends to the credential audit trail.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// StateStore persists short-lived, single-use authorization state.
type StateStore interface {
	// Create mints a nonce, binds the state to it, and persists it with
	// the TTL. The returned nonce rides the provider redirect.
	Create(ctx context.Context, state domain.AuthorizationState, ttl time.Duration) (string, error)
	// Consume atomically removes and returns the state. Exactly one
	// caller wins a concurrent double consumption; losers receive
	// ErrStateAlreadyConsumed, unknown or expired nonces ErrInvalidState.
	Consume(ctx context.Context, nonce string) (*domain.AuthorizationState, error)
}
