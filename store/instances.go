package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mailflow/types"
)

// InstanceStore persists workflow instances. Uniqueness of work_item_id is
// the guarantee that concurrent starts for one item are rejected, not
// merged; state transitions are compare-and-swap so concurrent resumes are
// exclusive.
type InstanceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewInstanceStore creates a workflow instance store.
func NewInstanceStore(db *gorm.DB, logger *zap.Logger) *InstanceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstanceStore{db: db, logger: logger.With(zap.String("component", "instance_store"))}
}

// Create inserts a new instance in the given initial state. A second
// instance for the same work item returns ErrDuplicate.
func (s *InstanceStore) Create(ctx context.Context, inst *Instance) error {
	if inst.State == "" {
		inst.State = types.StateInitialized
	}
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("work item %s already has a workflow: %w", inst.WorkItemID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return nil
}

// Get returns the instance by thread id.
func (s *InstanceStore) Get(ctx context.Context, threadID string) (*Instance, error) {
	var inst Instance
	if err := s.db.WithContext(ctx).First(&inst, "thread_id = ?", threadID).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &inst, nil
}

// GetByWorkItemID returns the instance owning the given work item.
func (s *InstanceStore) GetByWorkItemID(ctx context.Context, workItemID string) (*Instance, error) {
	var inst Instance
	err := s.db.WithContext(ctx).First(&inst, "work_item_id = ?", workItemID).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &inst, nil
}

// GetByChannelMessageID resolves a channel callback that only carries the
// external message id of the proposal.
func (s *InstanceStore) GetByChannelMessageID(ctx context.Context, channelMessageID string) (*Instance, error) {
	var inst Instance
	err := s.db.WithContext(ctx).First(&inst, "channel_message_id = ?", channelMessageID).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &inst, nil
}

// Transition moves the instance from one state to another. It returns
// false without error when the instance was not in the expected state,
// which is how duplicate resumes and races are detected and no-op'd.
func (s *InstanceStore) Transition(ctx context.Context, threadID string, from, to types.WorkflowState) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Instance{}).
		Where("thread_id = ? AND state = ?", threadID, from).
		Update("state", to)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition %s -> %s: %w", from, to, res.Error)
	}
	if res.RowsAffected == 1 {
		s.logger.Debug("workflow transition",
			zap.String("thread_id", threadID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return res.RowsAffected == 1, nil
}

// ForceState sets the state unconditionally. Used for the error transition,
// which is allowed from any state.
func (s *InstanceStore) ForceState(ctx context.Context, threadID string, state types.WorkflowState, lastError string) error {
	res := s.db.WithContext(ctx).Model(&Instance{}).
		Where("thread_id = ?", threadID).
		Updates(map[string]any{"state": state, "last_error": lastError})
	if res.Error != nil {
		return fmt.Errorf("failed to set state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChannelMessageID records the external proposal message id once the
// proposal has been sent.
func (s *InstanceStore) SetChannelMessageID(ctx context.Context, threadID, channelMessageID string) error {
	res := s.db.WithContext(ctx).Model(&Instance{}).
		Where("thread_id = ?", threadID).
		Update("channel_message_id", channelMessageID)
	if res.Error != nil {
		return fmt.Errorf("failed to set channel message id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAwaitingDispatch returns instances suspended at awaiting_approval
// whose proposal has not been sent yet, joined with their work items,
// for one user. This is the batch dispatcher's work list.
func (s *InstanceStore) ListAwaitingDispatch(ctx context.Context, userID string) ([]PendingProposal, error) {
	var rows []PendingProposal
	err := s.db.WithContext(ctx).
		Table("workflow_instances").
		Select("workflow_instances.thread_id, work_items.*").
		Joins("JOIN work_items ON work_items.id = workflow_instances.work_item_id").
		Where("workflow_instances.state = ?", types.StateAwaitingApproval).
		Where("workflow_instances.channel_message_id = '' OR workflow_instances.channel_message_id IS NULL").
		Where("work_items.user_id = ?", userID).
		Order("work_items.proposed_category, work_items.created_at, work_items.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending proposals: %w", err)
	}
	return rows, nil
}

// CountActive returns the number of non-terminal instances for a work item.
// The at-most-one invariant is enforced by the unique index; this exists
// for health checks and tests.
func (s *InstanceStore) CountActive(ctx context.Context, workItemID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Instance{}).
		Where("work_item_id = ?", workItemID).
		Where("state NOT IN ?", []types.WorkflowState{
			types.StateCompleted, types.StateRejected, types.StateError,
		}).
		Count(&n).Error
	return n, err
}

// PendingProposal is one row of the batch dispatcher's work list.
type PendingProposal struct {
	ThreadID          string           `gorm:"column:thread_id"`
	ID                string           `gorm:"column:id"`
	UserID            string           `gorm:"column:user_id"`
	ProviderMessageID string           `gorm:"column:provider_message_id"`
	MailThreadID      string           `gorm:"column:mail_thread_id"`
	Sender            string           `gorm:"column:sender"`
	Subject           string           `gorm:"column:subject"`
	BodyPreview       string           `gorm:"column:body_preview"`
	Status            types.ItemStatus `gorm:"column:status"`
	PriorityScore     int              `gorm:"column:priority_score"`
	ProposedCategory  string           `gorm:"column:proposed_category"`
	Reasoning         string           `gorm:"column:reasoning"`
}
