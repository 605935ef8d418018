package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mailflow/types"
)

// CheckpointStore persists versioned workflow snapshots keyed by thread id.
// Versions increase monotonically per thread; resume loads the latest.
// Older versions are retained for audit until the owning item is deleted.
type CheckpointStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCheckpointStore creates a checkpoint store.
func NewCheckpointStore(db *gorm.DB, logger *zap.Logger) *CheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointStore{db: db, logger: logger.With(zap.String("component", "checkpoint_store"))}
}

// Save appends a new checkpoint version for the thread. The write and the
// version assignment happen in one transaction so concurrent saves cannot
// produce duplicate versions.
func (s *CheckpointStore) Save(ctx context.Context, threadID string, state types.WorkflowState, payload any) (*Checkpoint, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}

	cp := &Checkpoint{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		State:    state,
		Payload:  data,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest Checkpoint
		err := tx.Where("thread_id = ?", threadID).
			Order("version DESC").
			First(&latest).Error
		switch {
		case err == nil:
			cp.Version = latest.Version + 1
		case translateNotFound(err) == ErrNotFound:
			cp.Version = 1
		default:
			return err
		}
		return tx.Create(cp).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", threadID),
		zap.Int("version", cp.Version),
		zap.String("state", string(state)),
	)
	return cp, nil
}

// LoadLatest returns the newest checkpoint for the thread.
func (s *CheckpointStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version DESC").
		First(&cp).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &cp, nil
}

// ListVersions returns all checkpoints for the thread, oldest first.
func (s *CheckpointStore) ListVersions(ctx context.Context, threadID string) ([]Checkpoint, error) {
	var cps []Checkpoint
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version ASC").
		Find(&cps).Error
	if err != nil {
		return nil, err
	}
	return cps, nil
}

// Decode unmarshals the opaque payload into dst.
func (cp *Checkpoint) Decode(dst any) error {
	if err := json.Unmarshal(cp.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode checkpoint %s v%d: %w", cp.ThreadID, cp.Version, err)
	}
	return nil
}
