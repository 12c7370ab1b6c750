package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-integrations/internal/config"
	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/repository"
	"github.com/smallbiznis/valora-integrations/internal/service/integration"
)

func TestSweep_RefreshesExpiringIntegrations(t *testing.T) {
	repo := &stubIntegrationRepo{expiring: []int64{11, 22, 33}}
	manager := &stubRefreshManager{}
	sweeper := NewRefreshSweeper(repo, manager, config.Config{RefreshMargin: 5 * time.Minute}, zap.NewNop())

	sweeper.sweep()

	require.ElementsMatch(t, []int64{11, 22, 33}, manager.refreshed())
	for _, caller := range manager.callerIDs() {
		require.Equal(t, integration.SystemCaller, caller)
	}
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	repo := &stubIntegrationRepo{expiring: []int64{1, 2, 3}}
	manager := &stubRefreshManager{
		errs: map[int64]error{
			2: fmt.Errorf("%w: outage", domain.ErrProviderUnavailable),
		},
	}
	sweeper := NewRefreshSweeper(repo, manager, config.Config{RefreshMargin: 5 * time.Minute}, zap.NewNop())

	sweeper.sweep()

	require.ElementsMatch(t, []int64{1, 2, 3}, manager.refreshed())
}

func TestSweep_CutoffIncludesRefreshMargin(t *testing.T) {
	repo := &stubIntegrationRepo{}
	sweeper := NewRefreshSweeper(repo, &stubRefreshManager{}, config.Config{RefreshMargin: 5 * time.Minute}, zap.NewNop())

	before := time.Now().UTC()
	sweeper.sweep()

	require.False(t, repo.cutoff.Before(before.Add(5*time.Minute)))
}

type stubIntegrationRepo struct {
	expiring []int64
	cutoff   time.Time
}

func (s *stubIntegrationRepo) CreatePending(context.Context, int64, domain.Provider, []string) (domain.Integration, error) {
	return domain.Integration{}, nil
}

func (s *stubIntegrationRepo) Get(context.Context, int64) (domain.Integration, error) {
	return domain.Integration{}, domain.ErrIntegrationNotFound
}

func (s *stubIntegrationRepo) ListByUser(context.Context, int64) ([]domain.Integration, error) {
	return nil, nil
}

func (s *stubIntegrationRepo) Activate(context.Context, repository.ActivateParams) (domain.Integration, error) {
	return domain.Integration{}, nil
}

func (s *stubIntegrationRepo) MarkExpired(context.Context, int64) error { return nil }

func (s *stubIntegrationRepo) MarkRevoked(context.Context, int64) error { return nil }

func (s *stubIntegrationRepo) TouchRefreshed(context.Context, int64) error { return nil }

func (s *stubIntegrationRepo) ListExpiringActive(_ context.Context, cutoff time.Time) ([]int64, error) {
	s.cutoff = cutoff
	return s.expiring, nil
}

type stubRefreshManager struct {
	mu      sync.Mutex
	ids     []int64
	callers []int64
	errs    map[int64]error
}

func (s *stubRefreshManager) Refresh(_ context.Context, callerID, id int64) (*domain.IntegrationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	s.callers = append(s.callers, callerID)
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return &domain.IntegrationSummary{ID: id, Status: domain.StatusActive}, nil
}

func (s *stubRefreshManager) refreshed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64{}, s.ids...)
}

func (s *stubRefreshManager) callerIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64{}, s.callers...)
}

func (s *stubRefreshManager) BeginAuthorization(context.Context, integration.BeginAuthorizationInput) (*integration.BeginAuthorizationOutput, error) {
	return nil, nil
}

func (s *stubRefreshManager) HandleCallback(context.Context, integration.CallbackInput) (*domain.IntegrationSummary, error) {
	return nil, nil
}

func (s *stubRefreshManager) Revoke(context.Context, int64, int64, string) error { return nil }

func (s *stubRefreshManager) ListIntegrations(context.Context, int64) ([]domain.IntegrationSummary, error) {
	return nil, nil
}

func (s *stubRefreshManager) ListConsents(context.Context, int64, int64) ([]domain.ConsentRecord, error) {
	return nil, nil
}
