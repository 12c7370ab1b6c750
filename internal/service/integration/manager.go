package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-integrations/internal/audit"
	"github.com/smallbiznis/valora-integrations/internal/config"
	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/provider"
	"github.com/smallbiznis/valora-integrations/internal/repository"
)

// SystemCaller marks internal callers such as the refresh sweeper;
// ownership checks do not apply to it.
const SystemCaller int64 = 0

// Manager orchestrates the delegated-access credential lifecycle:
// begin authorization, handle the provider callback, refresh, revoke.
// It is the only place integration status transitions happen.
// Operations addressing an integration by id take the caller's user id
// and hide rows the caller does not own.
type Manager interface {
	BeginAuthorization(ctx context.Context, in BeginAuthorizationInput) (*BeginAuthorizationOutput, error)
	HandleCallback(ctx context.Context, in CallbackInput) (*domain.IntegrationSummary, error)
	Refresh(ctx context.Context, callerID, integrationID int64) (*domain.IntegrationSummary, error)
	Revoke(ctx context.Context, callerID, integrationID int64, actor string) error
	ListIntegrations(ctx context.Context, userID int64) ([]domain.IntegrationSummary, error)
	ListConsents(ctx context.Context, userID, integrationID int64) ([]domain.ConsentRecord, error)
}

// TokenVault is the sealing surface the manager depends on, satisfied
// by the vault package.
type TokenVault interface {
	Seal(integrationID int64, pair domain.TokenPair) (domain.TokenRecord, error)
	Retrieve(ctx context.Context, integrationID int64) (domain.TokenPair, error)
	Rotate(ctx context.Context, integrationID int64, newAccess, newRefresh string, expiresAt time.Time) error
	Delete(ctx context.Context, integrationID int64) error
}

// BeginAuthorizationInput identifies who connects what with which scopes.
type BeginAuthorizationInput struct {
	UserID      int64
	Provider    domain.Provider
	Scopes      []string
	RedirectURI string
}

// BeginAuthorizationOutput carries the URL the caller redirects the
// user's browser to.
type BeginAuthorizationOutput struct {
	AuthorizationURL string
	State            string
	IntegrationID    int64
}

// CallbackInput captures the provider redirect parameters.
type CallbackInput struct {
	Code          string
	State         string
	ProviderError string
}

type manager struct {
	registry     *provider.Registry
	stateStore   repository.StateStore
	integrations repository.IntegrationRepository
	consents     repository.ConsentRepository
	tokens       TokenVault
	sink         audit.Sink
	locks        *keyedLocks
	cfg          config.Config
	logger       *zap.Logger
}

// NewManager wires the orchestrator.
func NewManager(
	registry *provider.Registry,
	stateStore repository.StateStore,
	integrations repository.IntegrationRepository,
	consents repository.ConsentRepository,
	tokens TokenVault,
	sink audit.Sink,
	cfg config.Config,
	logger *zap.Logger,
) Manager {
	if logger == nil {
		logger = zap.L()
	}
	return &manager{
		registry:     registry,
		stateStore:   stateStore,
		integrations: integrations,
		consents:     consents,
		tokens:       tokens,
		sink:         sink,
		locks:        newKeyedLocks(),
		cfg:          cfg,
		logger:       logger,
	}
}

func (m *manager) BeginAuthorization(ctx context.Context, in BeginAuthorizationInput) (*BeginAuthorizationOutput, error) {
	if in.UserID == 0 || strings.TrimSpace(in.RedirectURI) == "" {
		return nil, domain.ErrInvalidRequest
	}
	adapter, err := m.registry.Get(in.Provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateScopes(in.Scopes); err != nil {
		return nil, err
	}
	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = adapter.SupportedScopes()
	}

	pending, err := m.integrations.CreatePending(ctx, in.UserID, in.Provider, scopes)
	if err != nil {
		return nil, fmt.Errorf("create pending integration: %w", err)
	}

	nonce, err := m.stateStore.Create(ctx, domain.AuthorizationState{
		UserID:        in.UserID,
		Provider:      in.Provider,
		IntegrationID: pending.ID,
		Scopes:        scopes,
		RedirectURI:   in.RedirectURI,
	}, m.cfg.StateTTL)
	if err != nil {
		return nil, fmt.Errorf("persist authorization state: %w", err)
	}

	authURL, err := adapter.AuthorizationURL(nonce, scopes, in.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("build authorization url: %w", err)
	}

	m.sink.Record(ctx, domain.AuditEntry{
		Actor:         actorForUser(in.UserID),
		IntegrationID: pending.ID,
		Action:        domain.AuditBegin,
		Outcome:       domain.OutcomeSuccess,
		Metadata:      map[string]any{"provider": in.Provider, "scopes": scopes},
	})

	return &BeginAuthorizationOutput{
		AuthorizationURL: authURL,
		State:            nonce,
		IntegrationID:    pending.ID,
	}, nil
}

func (m *manager) HandleCallback(ctx context.Context, in CallbackInput) (*domain.IntegrationSummary, error) {
	if strings.TrimSpace(in.ProviderError) != "" {
		// The provider redirected with an error instead of a code; no
		// exchange is attempted. Consume the nonce anyway so it cannot
		// be replayed with a forged code later.
		var integrationID int64
		var actor string
		if state, err := m.stateStore.Consume(ctx, in.State); err == nil {
			integrationID = state.IntegrationID
			actor = actorForUser(state.UserID)
		}
		m.recordCallbackFailure(ctx, actor, integrationID, map[string]any{"provider_error": in.ProviderError})
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, in.ProviderError)
	}
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.State) == "" {
		return nil, domain.ErrInvalidRequest
	}

	state, err := m.stateStore.Consume(ctx, in.State)
	if err != nil {
		m.recordCallbackFailure(ctx, "", 0, map[string]any{"reason": domain.ErrorCode(err)})
		return nil, err
	}
	actor := actorForUser(state.UserID)

	adapter, err := m.registry.Get(state.Provider)
	if err != nil {
		m.recordCallbackFailure(ctx, actor, state.IntegrationID, map[string]any{"reason": "unknown_provider"})
		return nil, err
	}

	grant, err := m.exchange(ctx, adapter, in.Code, state.RedirectURI)
	if err != nil {
		if errors.Is(err, domain.ErrProviderRejected) || errors.Is(err, domain.ErrProviderUnsupportedResponse) {
			// A rejected code never becomes usable; retire the pending row.
			if markErr := m.integrations.MarkExpired(ctx, state.IntegrationID); markErr != nil {
				m.logger.Error("mark pending expired", zap.Error(markErr), zap.Int64("integration_id", state.IntegrationID))
			}
		}
		m.recordCallbackFailure(ctx, actor, state.IntegrationID, map[string]any{"reason": domain.ErrorCode(err)})
		return nil, err
	}

	accountID, err := m.fetchIdentity(ctx, adapter, grant.AccessToken)
	if err != nil {
		m.recordCallbackFailure(ctx, actor, state.IntegrationID, map[string]any{"reason": domain.ErrorCode(err)})
		return nil, err
	}

	grantedScopes := splitScope(grant.Scope)
	if len(grantedScopes) == 0 {
		grantedScopes = state.Scopes
	}

	sealed, err := m.tokens.Seal(state.IntegrationID, domain.TokenPair{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    grant.TokenType,
		ExpiresAt:    grant.ExpiresAt,
		Scope:        strings.Join(grantedScopes, " "),
	})
	if err != nil {
		m.recordCallbackFailure(ctx, actor, state.IntegrationID, map[string]any{"reason": domain.ErrorCode(err)})
		return nil, fmt.Errorf("seal tokens: %w", err)
	}

	activated, err := m.integrations.Activate(ctx, repository.ActivateParams{
		IntegrationID:     state.IntegrationID,
		ProviderAccountID: accountID,
		GrantedScopes:     grantedScopes,
		Token:             sealed,
	})
	if err != nil {
		m.recordCallbackFailure(ctx, actor, state.IntegrationID, map[string]any{"reason": domain.ErrorCode(err)})
		return nil, err
	}

	m.sink.Record(ctx, domain.AuditEntry{
		Actor:         actor,
		IntegrationID: activated.ID,
		Action:        domain.AuditCallbackSuccess,
		Outcome:       domain.OutcomeSuccess,
		Metadata:      map[string]any{"provider": activated.Provider, "scopes": grantedScopes},
	})

	summary := activated.Summary()
	return &summary, nil
}

func (m *manager) Refresh(ctx context.Context, callerID, integrationID int64) (*domain.IntegrationSummary, error) {
	release := m.locks.Acquire(integrationID)
	defer release()

	integration, err := m.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(integration, callerID); err != nil {
		return nil, err
	}
	if integration.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: cannot refresh %s integration", domain.ErrInvalidIntegrationState, integration.Status)
	}

	pair, err := m.tokens.Retrieve(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	// A concurrent refresh may have already rotated the token while we
	// waited on the lock; a token still outside the margin needs no
	// provider call.
	if time.Until(pair.ExpiresAt) > m.cfg.RefreshMargin {
		summary := integration.Summary()
		return &summary, nil
	}
	if pair.RefreshToken == "" {
		return nil, domain.ErrNoRefreshToken
	}

	adapter, err := m.registry.Get(integration.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	grant, err := adapter.Refresh(callCtx, pair.RefreshToken)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrProviderRejected) {
			// The refresh token was revoked server-side; the grant is gone
			// for good and retrying would not help.
			if markErr := m.integrations.MarkExpired(ctx, integrationID); markErr != nil {
				m.logger.Error("mark integration expired", zap.Error(markErr), zap.Int64("integration_id", integrationID))
			}
		}
		m.sink.Record(ctx, domain.AuditEntry{
			Actor:         actorForUser(integration.UserID),
			IntegrationID: integrationID,
			Action:        domain.AuditRefresh,
			Outcome:       domain.OutcomeFailure,
			Metadata:      map[string]any{"reason": domain.ErrorCode(err)},
		})
		return nil, err
	}

	if err := m.tokens.Rotate(ctx, integrationID, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt); err != nil {
		return nil, fmt.Errorf("rotate tokens: %w", err)
	}
	if err := m.integrations.TouchRefreshed(ctx, integrationID); err != nil {
		m.logger.Warn("touch refreshed", zap.Error(err), zap.Int64("integration_id", integrationID))
	}

	m.sink.Record(ctx, domain.AuditEntry{
		Actor:         actorForUser(integration.UserID),
		IntegrationID: integrationID,
		Action:        domain.AuditRefresh,
		Outcome:       domain.OutcomeSuccess,
		Metadata:      map[string]any{"provider": integration.Provider, "rotated_refresh": grant.RefreshToken != ""},
	})

	refreshed, err := m.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	summary := refreshed.Summary()
	return &summary, nil
}

func (m *manager) Revoke(ctx context.Context, callerID, integrationID int64, actor string) error {
	release := m.locks.Acquire(integrationID)
	defer release()

	integration, err := m.integrations.Get(ctx, integrationID)
	if err != nil {
		return err
	}
	if err := checkOwnership(integration, callerID); err != nil {
		return err
	}
	if integration.Status == domain.StatusRevoked {
		return fmt.Errorf("%w: integration already revoked", domain.ErrInvalidIntegrationState)
	}

	// Remote revocation is best effort: a provider outage must not keep
	// the local record active.
	remoteRevoked := m.revokeRemote(ctx, integration)

	if err := m.integrations.MarkRevoked(ctx, integrationID); err != nil {
		return err
	}
	if err := m.tokens.Delete(ctx, integrationID); err != nil {
		m.logger.Error("delete token record", zap.Error(err), zap.Int64("integration_id", integrationID))
	}

	m.sink.Record(ctx, domain.AuditEntry{
		Actor:         actor,
		IntegrationID: integrationID,
		Action:        domain.AuditRevoke,
		Outcome:       domain.OutcomeSuccess,
		Metadata:      map[string]any{"provider": integration.Provider, "remote_revoked": remoteRevoked},
	})
	return nil
}

func (m *manager) revokeRemote(ctx context.Context, integration domain.Integration) bool {
	adapter, err := m.registry.Get(integration.Provider)
	if err != nil {
		return false
	}
	pair, err := m.tokens.Retrieve(ctx, integration.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrTokenNotFound) {
			m.logger.Warn("retrieve tokens for revoke", zap.Error(err), zap.Int64("integration_id", integration.ID))
		}
		return false
	}
	token := pair.RefreshToken
	if token == "" {
		token = pair.AccessToken
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RevokeTimeout)
	defer cancel()
	acknowledged, err := adapter.Revoke(callCtx, token)
	if err != nil {
		m.logger.Warn("remote revoke failed",
			zap.Error(err),
			zap.Int64("integration_id", integration.ID),
			zap.String("provider", string(integration.Provider)),
		)
		return false
	}
	return acknowledged
}

func (m *manager) ListIntegrations(ctx context.Context, userID int64) ([]domain.IntegrationSummary, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	integrations, err := m.integrations.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.IntegrationSummary, 0, len(integrations))
	for _, integration := range integrations {
		summaries = append(summaries, integration.Summary())
	}
	return summaries, nil
}

func (m *manager) ListConsents(ctx context.Context, userID, integrationID int64) ([]domain.ConsentRecord, error) {
	integration, err := m.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(integration, userID); err != nil {
		return nil, err
	}
	return m.consents.ListByIntegration(ctx, integrationID)
}

func (m *manager) exchange(ctx context.Context, adapter provider.Adapter, code, redirectURI string) (*provider.TokenGrant, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()
	grant, err := adapter.ExchangeCode(callCtx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	if grant.ExpiresAt.IsZero() {
		// A provider that omits expires_in gets the conservative default.
		grant.ExpiresAt = time.Now().UTC().Add(time.Hour)
	}
	return grant, nil
}

func (m *manager) fetchIdentity(ctx context.Context, adapter provider.Adapter, accessToken string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()
	return adapter.FetchAccountIdentity(callCtx, accessToken)
}

func (m *manager) recordCallbackFailure(ctx context.Context, actor string, integrationID int64, metadata map[string]any) {
	m.sink.Record(ctx, domain.AuditEntry{
		Actor:         actor,
		IntegrationID: integrationID,
		Action:        domain.AuditCallbackFailure,
		Outcome:       domain.OutcomeFailure,
		Metadata:      metadata,
	})
}

// checkOwnership reads foreign rows as missing so callers cannot
// enumerate other users' integration ids. SystemCaller bypasses the
// check.
func checkOwnership(integration domain.Integration, callerID int64) error {
	if callerID != SystemCaller && integration.UserID != callerID {
		return domain.ErrIntegrationNotFound
	}
	return nil
}

func actorForUser(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func splitScope(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	var scopes []string
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}
