package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

const (
	zoomAuthURL   = "https://zoom.us/oauth/authorize"
	zoomTokenURL  = "https://zoom.us/oauth/token"
	zoomRevokeURL = "https://zoom.us/oauth/revoke"
	zoomMeURL     = "https://api.zoom.us/v2/users/me"
)

var zoomScopes = []string{
	"user:read",
	"meeting:read",
	"meeting:write",
	"recording:read",
}

// Zoom connects Zoom accounts. Zoom authenticates token-endpoint calls
// with HTTP basic credentials rather than form parameters, and rotates
// the refresh token on every renewal.
type Zoom struct {
	client    *oauthClient
	supported map[string]struct{}
}

var _ Adapter = (*Zoom)(nil)

func NewZoom(httpClient *http.Client, clientID, clientSecret string) *Zoom {
	return &Zoom{
		client:    newOAuthClient(httpClient, clientID, clientSecret, authStyleBasic),
		supported: scopeSet(zoomScopes),
	}
}

func (z *Zoom) Name() domain.Provider { return domain.ProviderZoom }

func (z *Zoom) SupportedScopes() []string { return append([]string{}, zoomScopes...) }

func (z *Zoom) ValidateScopes(scopes []string) error {
	return validateScopes(z.Name(), z.supported, scopes)
}

func (z *Zoom) AuthorizationURL(state string, scopes []string, redirectURI string) (string, error) {
	return buildAuthorizationURL(zoomAuthURL, z.client.clientID, state, redirectURI, scopes, nil)
}

func (z *Zoom) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return z.client.tokenCall(ctx, zoomTokenURL, form)
}

func (z *Zoom) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return z.client.tokenCall(ctx, zoomTokenURL, form)
}

func (z *Zoom) FetchAccountIdentity(ctx context.Context, accessToken string) (string, error) {
	raw, err := z.client.getJSON(ctx, zoomMeURL, accessToken)
	if err != nil {
		return "", err
	}
	id := stringValue(raw["id"])
	if id == "" {
		return "", fmt.Errorf("%w: users/me missing id", domain.ErrProviderUnsupportedResponse)
	}
	return id, nil
}

func (z *Zoom) Revoke(ctx context.Context, token string) (bool, error) {
	form := url.Values{}
	form.Set("token", token)
	return z.client.postForm(ctx, zoomRevokeURL, form, "")
}
