package provider

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

func TestTokenCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "client-id", r.PostForm.Get("client_id"))
		require.Equal(t, "client-secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"token_type": "Bearer",
			"expires_in": 3600,
			"scope": "calendar.readonly"
		}`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "client-id", "client-secret", authStyleForm)
	form := url.Values{}
	form.Set("grant_type", "authorization_code")

	grant, err := c.tokenCall(context.Background(), srv.URL, form)
	require.NoError(t, err)
	require.Equal(t, "new-access", grant.AccessToken)
	require.Equal(t, "new-refresh", grant.RefreshToken)
	require.Equal(t, "calendar.readonly", grant.Scope)
	require.WithinDuration(t, time.Now().Add(time.Hour), grant.ExpiresAt, time.Minute)
}

func TestTokenCall_BasicAuthStyle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		require.Equal(t, expected, r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		// Basic-auth providers must not receive credentials in the form.
		require.Empty(t, r.PostForm.Get("client_id"))

		_, _ = w.Write([]byte(`{"access_token": "access"}`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "client-id", "client-secret", authStyleBasic)
	grant, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.NoError(t, err)
	require.Equal(t, "access", grant.AccessToken)
	require.Equal(t, "Bearer", grant.TokenType)
}

func TestTokenCall_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestTokenCall_OAuthErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "Token has been revoked."}`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	require.Contains(t, err.Error(), "invalid_grant")
}

func TestTokenCall_MalformedErrorIsUnsupportedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderUnsupportedResponse)
}

func TestTokenCall_MalformedBodyIsUnsupportedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderUnsupportedResponse)
}

func TestTokenCall_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type": "Bearer"}`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderUnsupportedResponse)
}

func TestTokenCall_SlackOKFalseEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Slack reports failures with HTTP 200.
		_, _ = w.Write([]byte(`{"ok": false, "error": "invalid_code"}`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderRejected)
	require.Contains(t, err.Error(), "invalid_code")
}

func TestTokenCall_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newOAuthClient(&http.Client{Timeout: time.Second}, "id", "secret", authStyleForm)
	_, err := c.tokenCall(context.Background(), srv.URL, url.Values{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestGetJSON_BearerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer the-access-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"sub": "user-123"}`))
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	raw, err := c.getJSON(context.Background(), srv.URL, "the-access-token")
	require.NoError(t, err)
	require.Equal(t, "user-123", stringValue(raw["sub"]))
}

func TestPostForm_Acknowledged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	ok, err := c.postForm(context.Background(), srv.URL, url.Values{}, "")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPostForm_NotAcknowledged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newOAuthClient(srv.Client(), "id", "secret", authStyleForm)
	ok, err := c.postForm(context.Background(), srv.URL, url.Values{}, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildAuthorizationURL(t *testing.T) {
	raw, err := buildAuthorizationURL(
		"https://accounts.example.com/authorize",
		"client-id",
		"nonce-1",
		"https://app.example.com/callback",
		[]string{"openid", "email"},
		url.Values{"prompt": {"consent"}},
	)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "nonce-1", q.Get("state"))
	require.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid email", q.Get("scope"))
	require.Equal(t, "consent", q.Get("prompt"))
}
