package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/mailflow/types"
)

// PreferenceStore persists per-user notification preferences.
type PreferenceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPreferenceStore creates a preference store.
func NewPreferenceStore(db *gorm.DB, logger *zap.Logger) *PreferenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceStore{db: db, logger: logger.With(zap.String("component", "preference_store"))}
}

// Get returns the user's preferences, or sensible defaults when the user
// has never saved any.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (*types.NotificationPreference, error) {
	var rec Preference
	err := s.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	if translateNotFound(err) == ErrNotFound {
		return &types.NotificationPreference{
			UserID:            userID,
			BatchEnabled:      true,
			BatchTime:         "09:00",
			PriorityImmediate: true,
			Recipient:         userID,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return rec.ToType(), nil
}

// Upsert saves the user's preferences.
func (s *PreferenceStore) Upsert(ctx context.Context, p *types.NotificationPreference) error {
	rec := &Preference{
		UserID:            p.UserID,
		BatchEnabled:      p.BatchEnabled,
		BatchTime:         p.BatchTime,
		PriorityImmediate: p.PriorityImmediate,
		QuietHoursStart:   p.QuietHoursStart,
		QuietHoursEnd:     p.QuietHoursEnd,
		Recipient:         p.Recipient,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// ListBatchUsers returns the preferences of every user with batching
// enabled; the scheduler walks this list each tick.
func (s *PreferenceStore) ListBatchUsers(ctx context.Context) ([]types.NotificationPreference, error) {
	var recs []Preference
	err := s.db.WithContext(ctx).Where("batch_enabled = ?", true).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list batch users: %w", err)
	}
	out := make([]types.NotificationPreference, 0, len(recs))
	for i := range recs {
		out = append(out, *recs[i].ToType())
	}
	return out, nil
}
