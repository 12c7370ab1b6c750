package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/repository"
)

// TokenVault is the only component allowed to see token plaintext. It
// seals tokens before they reach persistence and decrypts on demand.
type TokenVault struct {
	cipher *Cipher
	tokens repository.TokenRepository
}

// New wires the vault over its cipher and persistence.
func New(cipher *Cipher, tokens repository.TokenRepository) *TokenVault {
	return &TokenVault{cipher: cipher, tokens: tokens}
}

// Seal encrypts a token pair into a TokenRecord without persisting it.
// The activation transaction writes the record together with the
// integration status flip, so the two can never diverge.
func (v *TokenVault) Seal(integrationID int64, pair domain.TokenPair) (domain.TokenRecord, error) {
	access, err := v.cipher.Encrypt([]byte(pair.AccessToken))
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("seal access token: %w", err)
	}
	record := domain.TokenRecord{
		IntegrationID: integrationID,
		AccessToken:   access,
		TokenType:     pair.TokenType,
		ExpiresAt:     pair.ExpiresAt,
		Scope:         pair.Scope,
	}
	if pair.RefreshToken != "" {
		refresh, err := v.cipher.Encrypt([]byte(pair.RefreshToken))
		if err != nil {
			return domain.TokenRecord{}, fmt.Errorf("seal refresh token: %w", err)
		}
		record.RefreshToken = refresh
	}
	return record, nil
}

// Retrieve decrypts the stored pair. The caller must use the plaintext
// for the immediate provider call only and let it go out of scope.
func (v *TokenVault) Retrieve(ctx context.Context, integrationID int64) (domain.TokenPair, error) {
	record, err := v.tokens.Get(ctx, integrationID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	access, err := v.cipher.Decrypt(record.AccessToken)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("access token: %w", err)
	}
	pair := domain.TokenPair{
		AccessToken: string(access),
		TokenType:   record.TokenType,
		ExpiresAt:   record.ExpiresAt,
		Scope:       record.Scope,
	}
	if len(record.RefreshToken) > 0 {
		refresh, err := v.cipher.Decrypt(record.RefreshToken)
		if err != nil {
			return domain.TokenPair{}, fmt.Errorf("refresh token: %w", err)
		}
		pair.RefreshToken = string(refresh)
	}
	return pair, nil
}

// Rotate replaces the access token after a successful refresh. When the
// provider rotated the refresh token too, newRefresh carries the
// replacement; otherwise the stored one is kept.
func (v *TokenVault) Rotate(ctx context.Context, integrationID int64, newAccess, newRefresh string, expiresAt time.Time) error {
	access, err := v.cipher.Encrypt([]byte(newAccess))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	var refresh []byte
	if newRefresh != "" {
		refresh, err = v.cipher.Encrypt([]byte(newRefresh))
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	return v.tokens.Rotate(ctx, integrationID, access, refresh, expiresAt)
}

// Delete removes the token record. Used on revocation so credentials
// never linger past the integration's lifetime.
func (v *TokenVault) Delete(ctx context.Context, integrationID int64) error {
	return v.tokens.Delete(ctx, integrationID)
}
