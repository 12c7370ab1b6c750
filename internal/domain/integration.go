package domain

import "time"

// Provider enumerates the third-party services users can connect.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderZoom      Provider = "zoom"
	ProviderSlack     Provider = "slack"
)

// Valid reports whether the tag names a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderZoom, ProviderSlack:
		return true
	}
	return false
}

// IntegrationStatus tracks the lifecycle of a delegated-access connection.
type IntegrationStatus string

const (
	StatusPending IntegrationStatus = "pending"
	StatusActive  IntegrationStatus = "active"
	StatusExpired IntegrationStatus = "expired"
	StatusRevoked IntegrationStatus = "revoked"
)

// Terminal reports whether the status can never transition again.
// Reconnecting creates a fresh pending Integration, it never resurrects
// an expired or revoked row.
func (s IntegrationStatus) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// Integration is one (user, provider) delegated-access relationship.
// At most one active row may exist per pair; activation supersedes any
// prior active row rather than deleting it.
type Integration struct {
	ID                int64
	UserID            int64
	Provider          Provider
	ProviderAccountID string
	Status            IntegrationStatus
	GrantedScopes     []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastRefreshedAt   *time.Time
}

// IntegrationSummary is the read model exposed to the routing layer.
// It never carries token material.
type IntegrationSummary struct {
	ID                int64             `json:"id,string"`
	Provider          Provider          `json:"provider"`
	ProviderAccountID string            `json:"provider_account_id,omitempty"`
	Status            IntegrationStatus `json:"status"`
	GrantedScopes     []string          `json:"granted_scopes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	LastRefreshedAt   *time.Time        `json:"last_refreshed_at,omitempty"`
}

// Summary projects the integration into its external read model.
func (i Integration) Summary() IntegrationSummary {
	return IntegrationSummary{
		ID:                i.ID,
		Provider:          i.Provider,
		ProviderAccountID: i.ProviderAccountID,
		Status:            i.Status,
		GrantedScopes:     append([]string{}, i.GrantedScopes...),
		CreatedAt:         i.CreatedAt,
		LastRefreshedAt:   i.LastRefreshedAt,
	}
}

// TokenRecord is the encrypted-at-rest token pair owned by one
// Integration. Access and refresh tokens are ciphertext; plaintext only
// exists inside the vault's decrypt boundary.
type TokenRecord struct {
	IntegrationID int64
	AccessToken   []byte
	RefreshToken  []byte
	TokenType     string
	ExpiresAt     time.Time
	Scope         string
	UpdatedAt     time.Time
}

// TokenPair is a decrypted token pair. Callers must not persist it
// beyond the immediate provider call.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
}

// ConsentRecord is an append-only entry of scopes a user approved.
type ConsentRecord struct {
	ID            int64
	IntegrationID int64
	Scopes        []string
	GrantedAt     time.Time
}

// AuthorizationState is the ephemeral, single-use record binding a
// CSRF nonce to the authorization attempt it protects.
type AuthorizationState struct {
	Nonce         string    `json:"nonce"`
	UserID        int64     `json:"user_id"`
	Provider      Provider  `json:"provider"`
	IntegrationID int64     `json:"integration_id"`
	Scopes        []string  `json:"scopes"`
	RedirectURI   string    `json:"redirect_uri"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}
