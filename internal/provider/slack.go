package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

const (
	slackAuthURL     = "https://slack.com/oauth/v2/authorize"
	slackTokenURL    = "https://slack.com/api/oauth.v2.access"
	slackAuthTestURL = "https://slack.com/api/auth.test"
	slackRevokeURL   = "https://slack.com/api/auth.revoke"
)

var slackScopes = []string{
	"channels:read",
	"chat:write",
	"files:read",
	"users:read",
}

// Slack connects Slack workspaces. Slack wraps errors in an ok=false
// envelope with HTTP 200, which the shared client unwraps.
type Slack struct {
	client    *oauthClient
	supported map[string]struct{}
}

var _ Adapter = (*Slack)(nil)

func NewSlack(httpClient *http.Client, clientID, clientSecret string) *Slack {
	return &Slack{
		client:    newOAuthClient(httpClient, clientID, clientSecret, authStyleForm),
		supported: scopeSet(slackScopes),
	}
}

func (s *Slack) Name() domain.Provider { return domain.ProviderSlack }

func (s *Slack) SupportedScopes() []string { return append([]string{}, slackScopes...) }

func (s *Slack) ValidateScopes(scopes []string) error {
	return validateScopes(s.Name(), s.supported, scopes)
}

func (s *Slack) AuthorizationURL(state string, scopes []string, redirectURI string) (string, error) {
	return buildAuthorizationURL(slackAuthURL, s.client.clientID, state, redirectURI, scopes, nil)
}

func (s *Slack) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return s.client.tokenCall(ctx, slackTokenURL, form)
}

func (s *Slack) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return s.client.tokenCall(ctx, slackTokenURL, form)
}

func (s *Slack) FetchAccountIdentity(ctx context.Context, accessToken string) (string, error) {
	raw, err := s.client.getJSON(ctx, slackAuthTestURL, accessToken)
	if err != nil {
		return "", err
	}
	if ok, present := raw["ok"].(bool); present && !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrProviderRejected, stringValue(raw["error"]))
	}
	userID := stringValue(raw["user_id"])
	if userID == "" {
		return "", fmt.Errorf("%w: auth.test missing user_id", domain.ErrProviderUnsupportedResponse)
	}
	return userID, nil
}

func (s *Slack) Revoke(ctx context.Context, token string) (bool, error) {
	return s.client.postForm(ctx, slackRevokeURL, url.Values{}, token)
}
