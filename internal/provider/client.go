package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

// authStyle controls how client credentials are sent to the token
// endpoint. Most providers accept form parameters; Zoom requires HTTP
// basic authentication.
type authStyle int

const (
	authStyleForm authStyle = iota
	authStyleBasic
)

// oauthClient performs the provider-agnostic HTTP legwork shared by all
// adapters: form-encoded token calls, bearer GETs, response size
// limits, and the failure taxonomy.
type oauthClient struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	style        authStyle
}

func newOAuthClient(httpClient *http.Client, clientID, clientSecret string, style authStyle) *oauthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &oauthClient{
		httpClient:   httpClient,
		clientID:     clientID,
		clientSecret: clientSecret,
		style:        style,
	}
}

// tokenCall posts the form to the token endpoint and normalizes the
// response. Transport errors and 5xx map to ErrProviderUnavailable,
// OAuth error bodies to ErrProviderRejected, and anything unparseable
// to ErrProviderUnsupportedResponse.
func (c *oauthClient) tokenCall(ctx context.Context, tokenURL string, form url.Values) (*TokenGrant, error) {
	if strings.TrimSpace(tokenURL) == "" {
		return nil, fmt.Errorf("%w: token url missing", domain.ErrProviderUnsupportedResponse)
	}

	if c.style == authStyleForm {
		form.Set("client_id", c.clientID)
		if c.clientSecret != "" {
			form.Set("client_secret", c.clientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.style == authStyleBasic {
		req.Header.Set("Authorization", "Basic "+basicCredentials(c.clientID, c.clientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read token response: %v", domain.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: token endpoint status=%d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, classifyOAuthError(resp.StatusCode, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", domain.ErrProviderUnsupportedResponse, err)
	}
	// Slack reports failures with HTTP 200 and an ok=false envelope.
	if ok, present := raw["ok"].(bool); present && !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderRejected, stringValue(raw["error"]))
	}

	grant := &TokenGrant{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", domain.ErrProviderUnsupportedResponse)
	}
	if grant.TokenType == "" {
		grant.TokenType = "Bearer"
	}
	if exp := int64Value(raw["expires_in"]); exp > 0 {
		grant.ExpiresAt = time.Now().UTC().Add(time.Duration(exp) * time.Second)
	}
	return grant, nil
}

// getJSON performs a bearer-authenticated GET and decodes the body.
func (c *oauthClient) getJSON(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, classifyOAuthError(resp.StatusCode, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnsupportedResponse, err)
	}
	return raw, nil
}

// postForm is used by revocation endpoints. Revocation is best effort;
// the caller only needs to know whether the provider acknowledged.
func (c *oauthClient) postForm(ctx context.Context, endpoint string, form url.Values, bearer string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	switch {
	case bearer != "":
		req.Header.Set("Authorization", "Bearer "+bearer)
	case c.style == authStyleBasic:
		req.Header.Set("Authorization", "Basic "+basicCredentials(c.clientID, c.clientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("%w: status=%d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return resp.StatusCode < 300, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Timeouts and connection failures are retryable, never a rejection.
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

func classifyOAuthError(status int, body []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return fmt.Errorf("%w: status=%d", domain.ErrProviderUnsupportedResponse, status)
	}
	if payload.ErrorDescription != "" {
		return fmt.Errorf("%w: %s (%s)", domain.ErrProviderRejected, payload.Error, payload.ErrorDescription)
	}
	return fmt.Errorf("%w: %s", domain.ErrProviderRejected, payload.Error)
}

func buildAuthorizationURL(rawURL, clientID, state, redirectURI string, scopes []string, extra url.Values) (string, error) {
	authURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("client_id", clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	for key, values := range extra {
		for _, v := range values {
			params.Set(key, v)
		}
	}
	authURL.RawQuery = params.Encode()
	return authURL.String(), nil
}

func basicCredentials(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
