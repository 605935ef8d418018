// Package history maintains the append-only decision ledger and the
// aggregate statistics derived from it. Ledger rows are the ground truth
// for how well the classifier tracks user intent.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// topCategoryLimit bounds the category leaderboard in statistics.
const topCategoryLimit = 5

// Service records decisions and answers ledger queries.
type Service struct {
	decisions *store.DecisionStore
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewService builds the ledger service.
func NewService(decisions *store.DecisionStore, collector *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		decisions: decisions,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "history")),
	}
}

// RecordDecision appends one ledger row for the item. A second call for
// the same item is a no-op, so a replayed callback can never double-count.
func (s *Service) RecordDecision(ctx context.Context, item *types.WorkItem, decision types.Decision, finalCategory string) error {
	exists, err := s.decisions.HasDecision(ctx, item.ID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("decision already recorded", zap.String("work_item_id", item.ID))
		return nil
	}

	row := &types.ApprovalDecision{
		UserID:               item.UserID,
		WorkItemID:           item.ID,
		Action:               decision.Action,
		AISuggestedCategory:  item.ProposedCategory,
		UserSelectedCategory: finalCategory,
		Timestamp:            time.Now().UTC(),
	}
	if err := s.decisions.Append(ctx, row); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.DecisionRecorded(string(decision.Action))
	}
	s.logger.Info("decision recorded",
		zap.String("work_item_id", item.ID),
		zap.String("action", string(decision.Action)),
		zap.String("category", finalCategory))
	return nil
}

// HasDecision reports whether a ledger row exists for the item. The
// executor uses it to keep replayed callbacks from re-running actions.
func (s *Service) HasDecision(ctx context.Context, workItemID string) (bool, error) {
	return s.decisions.HasDecision(ctx, workItemID)
}

// Statistics aggregates the user's ledger over an optional time window.
// The approval rate counts category changes as approvals: the user still
// wanted the mail filed, just elsewhere.
func (s *Service) Statistics(ctx context.Context, userID string, from, to time.Time) (*types.Statistics, error) {
	filter := store.LedgerFilter{UserID: userID}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}

	counts, err := s.decisions.CountByAction(ctx, filter)
	if err != nil {
		return nil, err
	}
	top, err := s.decisions.TopCategories(ctx, filter, topCategoryLimit)
	if err != nil {
		return nil, err
	}

	stats := &types.Statistics{
		Approved:      counts[types.ActionApprove],
		Rejected:      counts[types.ActionReject],
		FolderChanged: counts[types.ActionChangeCategory],
		TopCategories: top,
	}
	stats.Total = stats.Approved + stats.Rejected + stats.FolderChanged
	if stats.Total > 0 {
		stats.ApprovalRate = float64(stats.Approved+stats.FolderChanged) / float64(stats.Total)
	}
	return stats, nil
}

// List returns ledger rows matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter store.LedgerFilter) ([]types.ApprovalDecision, error) {
	return s.decisions.List(ctx, filter)
}
