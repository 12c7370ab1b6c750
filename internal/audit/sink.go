package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/repository"
)

// Sink appends credential-affecting actions to the audit trail.
type Sink interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// RepositorySink writes entries through an AuditRepository. Recording
// never fails the business operation; a failed append is itself an
// incident and is logged at error level.
type RepositorySink struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

var _ Sink = (*RepositorySink)(nil)

// NewRepositorySink wires the default sink.
func NewRepositorySink(repo repository.AuditRepository, logger *zap.Logger) *RepositorySink {
	if logger == nil {
		logger = zap.L()
	}
	return &RepositorySink{repo: repo, logger: logger}
}

// Record persists the entry and mirrors it to the structured log.
func (s *RepositorySink) Record(ctx context.Context, entry domain.AuditEntry) {
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.Error(err),
			zap.String("action", string(entry.Action)),
			zap.Int64("integration_id", entry.IntegrationID),
		)
		return
	}
	s.logger.Info("audit",
		zap.String("actor", entry.Actor),
		zap.String("action", string(entry.Action)),
		zap.String("outcome", string(entry.Outcome)),
		zap.Int64("integration_id", entry.IntegrationID),
	)
}
