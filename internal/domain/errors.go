package domain

import "errors"

var (
	// ErrUnknownProvider signals a provider tag outside the registry.
	ErrUnknownProvider = errors.New("integrations: unknown provider")
	// ErrUnsupportedScope indicates a requested scope the provider does not declare.
	ErrUnsupportedScope = errors.New("integrations: unsupported scope")
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("integrations: invalid request")
	// ErrIntegrationNotFound signals a missing or foreign integration row.
	ErrIntegrationNotFound = errors.New("integrations: integration not found")
	// ErrInvalidIntegrationState rejects operations against a terminal or mismatched status.
	ErrInvalidIntegrationState = errors.New("integrations: invalid integration state")
	// ErrInvalidState indicates the authorization state nonce is missing or expired.
	ErrInvalidState = errors.New("integrations: invalid authorization state")
	// ErrStateAlreadyConsumed is the loser's result of a double consumption race.
	ErrStateAlreadyConsumed = errors.New("integrations: authorization state already consumed")
	// ErrAuthorizationDenied surfaces a provider error parameter on the callback.
	ErrAuthorizationDenied = errors.New("integrations: authorization denied by provider")
	// ErrNoRefreshToken signals an access-only grant that cannot be renewed.
	ErrNoRefreshToken = errors.New("integrations: no refresh token stored")
	// ErrProviderUnavailable marks retryable provider failures (timeout, 5xx).
	ErrProviderUnavailable = errors.New("integrations: provider unavailable")
	// ErrProviderRejected marks non-retryable provider failures (invalid_grant, invalid_client).
	ErrProviderRejected = errors.New("integrations: provider rejected request")
	// ErrProviderUnsupportedResponse marks malformed provider responses.
	ErrProviderUnsupportedResponse = errors.New("integrations: unsupported provider response")
	// ErrTokenNotFound signals a missing token record for an integration.
	ErrTokenNotFound = errors.New("integrations: token record not found")
	// ErrTokenIntegrity signals ciphertext that failed authenticated decryption.
	ErrTokenIntegrity = errors.New("integrations: token record failed integrity check")
)

// ErrorCode maps domain errors to the stable codes exposed to the
// routing layer, which picks status codes without protocol knowledge.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrUnsupportedScope):
		return "unsupported_scope"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrIntegrationNotFound):
		return "integration_not_found"
	case errors.Is(err, ErrInvalidIntegrationState):
		return "invalid_integration_state"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStateAlreadyConsumed):
		return "invalid_state"
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrNoRefreshToken):
		return "no_refresh_token"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrProviderUnsupportedResponse):
		return "provider_rejected"
	case errors.Is(err, ErrTokenIntegrity), errors.Is(err, ErrTokenNotFound):
		return "token_integrity"
	default:
		return "server_error"
	}
}
