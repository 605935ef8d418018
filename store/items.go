package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mailflow/types"
)

// ItemStore persists work items.
type ItemStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewItemStore creates a work item store.
func NewItemStore(db *gorm.DB, logger *zap.Logger) *ItemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemStore{db: db, logger: logger.With(zap.String("component", "item_store"))}
}

// Create inserts a new work item. A duplicate provider message id returns
// ErrDuplicate so the poller can skip already-seen messages.
func (s *ItemStore) Create(ctx context.Context, item *types.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = types.ItemStatusPending
	}

	rec := itemFromType(item)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("provider message %s: %w", item.ProviderMessageID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create work item: %w", err)
	}
	item.CreatedAt = rec.CreatedAt
	item.UpdatedAt = rec.UpdatedAt
	return nil
}

// Get returns the work item by internal id.
func (s *ItemStore) Get(ctx context.Context, id string) (*types.WorkItem, error) {
	var rec Item
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return rec.ToType(), nil
}

// GetByProviderMessageID returns the work item for a provider message id.
func (s *ItemStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*types.WorkItem, error) {
	var rec Item
	err := s.db.WithContext(ctx).First(&rec, "provider_message_id = ?", providerMessageID).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return rec.ToType(), nil
}

// SetStatus updates only the item status.
func (s *ItemStore) SetStatus(ctx context.Context, id string, status types.ItemStatus) error {
	res := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetClassification records the proposed category, priority score and
// classifier reasoning after the classify and priority steps.
func (s *ItemStore) SetClassification(ctx context.Context, id, category string, priorityScore int, reasoning string) error {
	res := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).
		Updates(map[string]any{
			"proposed_category": category,
			"priority_score":    priorityScore,
			"reasoning":         reasoning,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record classification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the work item and cascades to its workflow instance and
// checkpoints. Cancellation is coarse: there is no mid-step cancellation,
// only removal of the owning item.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inst Instance
		err := tx.First(&inst, "work_item_id = ?", id).Error
		if err == nil {
			if err := tx.Where("thread_id = ?", inst.ThreadID).Delete(&Checkpoint{}).Error; err != nil {
				return fmt.Errorf("failed to delete checkpoints: %w", err)
			}
			if err := tx.Delete(&inst).Error; err != nil {
				return fmt.Errorf("failed to delete instance: %w", err)
			}
		} else if translateNotFound(err) != ErrNotFound {
			return err
		}

		res := tx.Where("id = ?", id).Delete(&Item{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete work item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		s.logger.Info("work item deleted", zap.String("work_item_id", id))
		return nil
	})
}
