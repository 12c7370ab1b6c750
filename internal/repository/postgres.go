package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/valora-integrations/internal/domain"
)

// Compile-time interface assertions.
var (
	_ IntegrationRepository = (*PostgresIntegrationRepo)(nil)
	_ TokenRepository       = (*PostgresTokenRepo)(nil)
	_ ConsentRepository     = (*PostgresConsentRepo)(nil)
	_ AuditRepository       = (*PostgresAuditRepo)(nil)
)

const integrationColumns = `id, user_id, provider, provider_account_id, status, granted_scopes, created_at, updated_at, last_refreshed_at`

// PostgresIntegrationRepo implements IntegrationRepository on pgx.
type PostgresIntegrationRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresIntegrationRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresIntegrationRepo {
	return &PostgresIntegrationRepo{db: pool, node: node}
}

func (r *PostgresIntegrationRepo) CreatePending(ctx context.Context, userID int64, provider domain.Provider, scopes []string) (domain.Integration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// A repeated begin supersedes the dangling pending row instead of
	// accumulating duplicates.
	if _, err := tx.Exec(ctx,
		`UPDATE integrations SET status = $1, updated_at = now() WHERE user_id = $2 AND provider = $3 AND status = $4`,
		domain.StatusExpired, userID, provider, domain.StatusPending,
	); err != nil {
		return domain.Integration{}, fmt.Errorf("supersede pending: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO integrations (id, user_id, provider, status, granted_scopes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+integrationColumns,
		r.node.Generate().Int64(), userID, provider, domain.StatusPending, scopes,
	)
	integration, err := scanIntegration(row)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("insert pending: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Integration{}, fmt.Errorf("commit: %w", err)
	}
	return integration, nil
}

func (r *PostgresIntegrationRepo) Get(ctx context.Context, id int64) (domain.Integration, error) {
	row := r.db.QueryRow(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
	integration, err := scanIntegration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Integration{}, domain.ErrIntegrationNotFound
		}
		return domain.Integration{}, fmt.Errorf("get integration: %w", err)
	}
	return integration, nil
}

func (r *PostgresIntegrationRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Integration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []domain.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		integrations = append(integrations, integration)
	}
	return integrations, rows.Err()
}

func (r *PostgresIntegrationRepo) Activate(ctx context.Context, params ActivateParams) (domain.Integration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT user_id, provider, status FROM integrations WHERE id = $1 FOR UPDATE`, params.IntegrationID)
	var (
		userID   int64
		provider domain.Provider
		status   domain.IntegrationStatus
	)
	if err := row.Scan(&userID, &provider, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Integration{}, domain.ErrIntegrationNotFound
		}
		return domain.Integration{}, fmt.Errorf("lock integration: %w", err)
	}
	if status != domain.StatusPending {
		return domain.Integration{}, fmt.Errorf("%w: cannot activate %s integration", domain.ErrInvalidIntegrationState, status)
	}

	// Retire the prior active connection for the pair; history stays.
	if _, err := tx.Exec(ctx,
		`UPDATE integrations SET status = $1, updated_at = now()
		 WHERE user_id = $2 AND provider = $3 AND status = $4 AND id <> $5`,
		domain.StatusExpired, userID, provider, domain.StatusActive, params.IntegrationID,
	); err != nil {
		return domain.Integration{}, fmt.Errorf("supersede active: %w", err)
	}

	activated := tx.QueryRow(ctx,
		`UPDATE integrations
		 SET status = $1, provider_account_id = $2, granted_scopes = $3, updated_at = now()
		 WHERE id = $4
		 RETURNING `+integrationColumns,
		domain.StatusActive, params.ProviderAccountID, params.GrantedScopes, params.IntegrationID,
	)
	integration, err := scanIntegration(activated)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("activate integration: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO token_records (integration_id, access_token, refresh_token, token_type, expires_at, scope, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (integration_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   token_type = EXCLUDED.token_type,
		   expires_at = EXCLUDED.expires_at,
		   scope = EXCLUDED.scope,
		   updated_at = now()`,
		params.IntegrationID, params.Token.AccessToken, nullableBytes(params.Token.RefreshToken),
		params.Token.TokenType, params.Token.ExpiresAt, params.Token.Scope,
	); err != nil {
		return domain.Integration{}, fmt.Errorf("upsert token record: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO consent_records (id, integration_id, scopes) VALUES ($1, $2, $3)`,
		r.node.Generate().Int64(), params.IntegrationID, params.GrantedScopes,
	); err != nil {
		return domain.Integration{}, fmt.Errorf("append consent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Integration{}, fmt.Errorf("commit: %w", err)
	}
	return integration, nil
}

func (r *PostgresIntegrationRepo) MarkExpired(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, domain.StatusExpired)
}

func (r *PostgresIntegrationRepo) MarkRevoked(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, domain.StatusRevoked)
}

func (r *PostgresIntegrationRepo) setStatus(ctx context.Context, id int64, status domain.IntegrationStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE integrations SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIntegrationNotFound
	}
	return nil
}

func (r *PostgresIntegrationRepo) TouchRefreshed(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE integrations SET last_refreshed_at = now(), updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch refreshed: %w", err)
	}
	return nil
}

func (r *PostgresIntegrationRepo) ListExpiringActive(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT i.id
		 FROM integrations i
		 JOIN token_records t ON t.integration_id = i.id
		 WHERE i.status = $1 AND t.refresh_token IS NOT NULL AND t.expires_at <= $2
		 ORDER BY t.expires_at`,
		domain.StatusActive, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list expiring: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

func (r *PostgresTokenRepo) Get(ctx context.Context, integrationID int64) (domain.TokenRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT integration_id, access_token, refresh_token, token_type, expires_at, scope, updated_at
		 FROM token_records WHERE integration_id = $1`, integrationID)

	var record domain.TokenRecord
	if err := row.Scan(
		&record.IntegrationID,
		&record.AccessToken,
		&record.RefreshToken,
		&record.TokenType,
		&record.ExpiresAt,
		&record.Scope,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenRecord{}, domain.ErrTokenNotFound
		}
		return domain.TokenRecord{}, fmt.Errorf("get token record: %w", err)
	}
	return record, nil
}

func (r *PostgresTokenRepo) Rotate(ctx context.Context, integrationID int64, access, refresh []byte, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE token_records
		 SET access_token = $1,
		     refresh_token = COALESCE($2, refresh_token),
		     expires_at = $3,
		     updated_at = now()
		 WHERE integration_id = $4`,
		access, nullableBytes(refresh), expiresAt, integrationID,
	)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func (r *PostgresTokenRepo) Delete(ctx context.Context, integrationID int64) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM token_records WHERE integration_id = $1`, integrationID); err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}
	return nil
}

// PostgresConsentRepo implements ConsentRepository.
type PostgresConsentRepo struct {
	db *pgxpool.Pool
}

func NewPostgresConsentRepo(pool *pgxpool.Pool) *PostgresConsentRepo {
	return &PostgresConsentRepo{db: pool}
}

func (r *PostgresConsentRepo) ListByIntegration(ctx context.Context, integrationID int64) ([]domain.ConsentRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, integration_id, scopes, granted_at
		 FROM consent_records WHERE integration_id = $1 ORDER BY granted_at`, integrationID)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var consents []domain.ConsentRecord
	for rows.Next() {
		var consent domain.ConsentRecord
		if err := rows.Scan(&consent.ID, &consent.IntegrationID, &consent.Scopes, &consent.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		consents = append(consents, consent)
	}
	return consents, rows.Err()
}

// PostgresAuditRepo implements AuditRepository.
type PostgresAuditRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresAuditRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: pool, node: node}
}

func (r *PostgresAuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = encoded
	}
	var integrationID *int64
	if entry.IntegrationID != 0 {
		integrationID = &entry.IntegrationID
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO audit_entries (id, actor, integration_id, action, outcome, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.node.Generate().Int64(), entry.Actor, integrationID, entry.Action, entry.Outcome, metadata,
	); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (domain.Integration, error) {
	var (
		integration domain.Integration
		accountID   *string
	)
	if err := row.Scan(
		&integration.ID,
		&integration.UserID,
		&integration.Provider,
		&accountID,
		&integration.Status,
		&integration.GrantedScopes,
		&integration.CreatedAt,
		&integration.UpdatedAt,
		&integration.LastRefreshedAt,
	); err != nil {
		return domain.Integration{}, err
	}
	if accountID != nil {
		integration.ProviderAccountID = *accountID
	}
	return integration, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
