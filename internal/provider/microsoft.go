package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

const (
	microsoftAuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	microsoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	microsoftMeURL    = "https://graph.microsoft.com/v1.0/me"
)

var microsoftScopes = []string{
	"offline_access",
	"User.Read",
	"Files.Read",
	"Files.ReadWrite",
	"Calendars.Read",
	"Calendars.ReadWrite",
}

// Microsoft connects Microsoft 365 accounts via the Graph API.
type Microsoft struct {
	client    *oauthClient
	supported map[string]struct{}
}

var _ Adapter = (*Microsoft)(nil)

func NewMicrosoft(httpClient *http.Client, clientID, clientSecret string) *Microsoft {
	return &Microsoft{
		client:    newOAuthClient(httpClient, clientID, clientSecret, authStyleForm),
		supported: scopeSet(microsoftScopes),
	}
}

func (m *Microsoft) Name() domain.Provider { return domain.ProviderMicrosoft }

func (m *Microsoft) SupportedScopes() []string { return append([]string{}, microsoftScopes...) }

func (m *Microsoft) ValidateScopes(scopes []string) error {
	return validateScopes(m.Name(), m.supported, scopes)
}

func (m *Microsoft) AuthorizationURL(state string, scopes []string, redirectURI string) (string, error) {
	return buildAuthorizationURL(microsoftAuthURL, m.client.clientID, state, redirectURI, scopes, nil)
}

func (m *Microsoft) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return m.client.tokenCall(ctx, microsoftTokenURL, form)
}

func (m *Microsoft) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return m.client.tokenCall(ctx, microsoftTokenURL, form)
}

func (m *Microsoft) FetchAccountIdentity(ctx context.Context, accessToken string) (string, error) {
	raw, err := m.client.getJSON(ctx, microsoftMeURL, accessToken)
	if err != nil {
		return "", err
	}
	id := stringValue(raw["id"])
	if id == "" {
		return "", fmt.Errorf("%w: /me missing id", domain.ErrProviderUnsupportedResponse)
	}
	return id, nil
}

// Revoke is a no-op: the Microsoft identity platform has no token
// revocation endpoint for delegated grants. Local revocation still
// proceeds; the grant expires on its own schedule.
func (m *Microsoft) Revoke(context.Context, string) (bool, error) {
	return false, nil
}
