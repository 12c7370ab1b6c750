package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

// TokenGrant is the normalized result of a token endpoint call.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
}

// Adapter translates the generic authorization-code flow into one
// provider's endpoints, scope vocabulary, and response shapes. Adapters
// are stateless; every method that touches the network takes a context.
type Adapter interface {
	Name() domain.Provider
	// SupportedScopes declares the provider's scope vocabulary.
	SupportedScopes() []string
	// ValidateScopes rejects scopes outside the vocabulary before any
	// network call is made.
	ValidateScopes(scopes []string) error
	// AuthorizationURL builds the provider consent URL carrying the
	// state nonce.
	AuthorizationURL(state string, scopes []string, redirectURI string) (string, error)
	// ExchangeCode redeems an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error)
	// Refresh obtains a new access token. Providers that rotate refresh
	// tokens return the replacement in the grant.
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
	// FetchAccountIdentity resolves the stable external account id.
	FetchAccountIdentity(ctx context.Context, accessToken string) (string, error)
	// Revoke invalidates the token server-side, best effort.
	Revoke(ctx context.Context, token string) (bool, error)
}

// Registry selects adapters by their enumerated provider tag.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry indexes the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for the tag or ErrUnknownProvider.
func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	if a, ok := r.adapters[p]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, p)
}

// Names lists the registered provider tags.
func (r *Registry) Names() []domain.Provider {
	names := make([]domain.Provider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

func validateScopes(p domain.Provider, supported map[string]struct{}, scopes []string) error {
	for _, scope := range scopes {
		if _, ok := supported[scope]; !ok {
			return fmt.Errorf("%w: %q not offered by %s", domain.ErrUnsupportedScope, scope, p)
		}
	}
	return nil
}

func scopeSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}
