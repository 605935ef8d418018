package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mailflow/types"
)

// DecisionStore is the append-only decision ledger. Rows are never updated
// or deleted except through cascading account deletion, which is outside
// this store's surface.
type DecisionStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDecisionStore creates a decision ledger store.
func NewDecisionStore(db *gorm.DB, logger *zap.Logger) *DecisionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionStore{db: db, logger: logger.With(zap.String("component", "decision_store"))}
}

// Append writes one ledger row. Approved derives from the action.
func (s *DecisionStore) Append(ctx context.Context, d *types.ApprovalDecision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = now().UTC()
	}
	d.Approved = d.Action != types.ActionReject

	rec := &Decision{
		ID:                   d.ID,
		UserID:               d.UserID,
		WorkItemID:           d.WorkItemID,
		Action:               d.Action,
		AISuggestedCategory:  d.AISuggestedCategory,
		UserSelectedCategory: d.UserSelectedCategory,
		Approved:             d.Approved,
		Timestamp:            d.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}

	s.logger.Info("decision recorded",
		zap.String("user_id", d.UserID),
		zap.String("work_item_id", d.WorkItemID),
		zap.String("action", string(d.Action)),
	)
	return nil
}

// HasDecision reports whether a ledger row already exists for the work
// item; the recorder uses it to keep replayed callbacks idempotent.
func (s *DecisionStore) HasDecision(ctx context.Context, workItemID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Decision{}).
		Where("work_item_id = ?", workItemID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LedgerFilter narrows history and statistics queries.
type LedgerFilter struct {
	UserID string
	From   *time.Time
	To     *time.Time
	Action types.ActionType // empty matches all
}

func (s *DecisionStore) filtered(ctx context.Context, f LedgerFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Decision{}).Where("user_id = ?", f.UserID)
	if f.From != nil {
		q = q.Where("timestamp >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("timestamp <= ?", *f.To)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	return q
}

// List returns matching ledger rows, newest first.
func (s *DecisionStore) List(ctx context.Context, f LedgerFilter) ([]types.ApprovalDecision, error) {
	var recs []Decision
	if err := s.filtered(ctx, f).Order("timestamp DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	out := make([]types.ApprovalDecision, 0, len(recs))
	for i := range recs {
		out = append(out, *recs[i].ToType())
	}
	return out, nil
}

// CountByAction returns row counts grouped by action within the filter's
// range (the filter's Action field is ignored).
func (s *DecisionStore) CountByAction(ctx context.Context, f LedgerFilter) (map[types.ActionType]int, error) {
	f.Action = ""
	var rows []struct {
		Action types.ActionType
		N      int
	}
	err := s.filtered(ctx, f).
		Select("action, COUNT(*) AS n").
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	out := make(map[types.ActionType]int, len(rows))
	for _, r := range rows {
		out[r.Action] = r.N
	}
	return out, nil
}

// TopCategories returns the most frequent user-selected categories within
// the filter's range, most frequent first.
func (s *DecisionStore) TopCategories(ctx context.Context, f LedgerFilter, limit int) ([]types.CategoryCount, error) {
	f.Action = ""
	var rows []types.CategoryCount
	err := s.filtered(ctx, f).
		Select("user_selected_category AS category, COUNT(*) AS count").
		Where("user_selected_category <> ''").
		Group("user_selected_category").
		Order("count DESC, category ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank categories: %w", err)
	}
	return rows, nil
}
