// Package store provides the relational persistence layer: work items,
// workflow instances, checkpoints, the approval decision ledger, and
// notification preferences. PostgreSQL in production, sqlite in tests.
package store

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/mailflow/types"
)

// Item persists one inbound message under consideration.
// ProviderMessageID carries the unique index the poller dedups against.
type Item struct {
	ID                string           `gorm:"primaryKey;size:64"`
	UserID            string           `gorm:"size:64;not null;index"`
	ProviderMessageID string           `gorm:"size:255;not null;uniqueIndex"`
	MailThreadID      string           `gorm:"size:255;not null;index"`
	Sender            string           `gorm:"size:320;not null"`
	Subject           string           `gorm:"size:998"`
	BodyPreview       string           `gorm:"type:text"`
	Status            types.ItemStatus `gorm:"size:32;not null;default:pending;index"`
	PriorityScore     int              `gorm:"not null;default:0"`
	ProposedCategory  string           `gorm:"size:128"`
	Reasoning         string           `gorm:"type:text"`
	CreatedAt         time.Time        `gorm:"not null;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"not null;autoUpdateTime"`
}

// TableName keeps the historical table name.
func (Item) TableName() string { return "work_items" }

// ToType converts the record to the domain type.
func (m *Item) ToType() *types.WorkItem {
	return &types.WorkItem{
		ID:                m.ID,
		UserID:            m.UserID,
		ProviderMessageID: m.ProviderMessageID,
		MailThreadID:      m.MailThreadID,
		Sender:            m.Sender,
		Subject:           m.Subject,
		BodyPreview:       m.BodyPreview,
		Status:            m.Status,
		PriorityScore:     m.PriorityScore,
		ProposedCategory:  m.ProposedCategory,
		Reasoning:         m.Reasoning,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func itemFromType(w *types.WorkItem) *Item {
	return &Item{
		ID:                w.ID,
		UserID:            w.UserID,
		ProviderMessageID: w.ProviderMessageID,
		MailThreadID:      w.MailThreadID,
		Sender:            w.Sender,
		Subject:           w.Subject,
		BodyPreview:       w.BodyPreview,
		Status:            w.Status,
		PriorityScore:     w.PriorityScore,
		ProposedCategory:  w.ProposedCategory,
		Reasoning:         w.Reasoning,
	}
}

// Instance is the live orchestration record for one work item. The unique
// indexes on WorkItemID and ThreadID enforce at most one active workflow
// per item; instances are retained after reaching a terminal state.
type Instance struct {
	ThreadID         string              `gorm:"primaryKey;size:64"`
	WorkItemID       string              `gorm:"size:64;not null;uniqueIndex"`
	ChannelMessageID string              `gorm:"size:255;index"` // empty until the proposal is sent
	State            types.WorkflowState `gorm:"size:32;not null;index"`
	LastError        string              `gorm:"type:text"`
	CreatedAt        time.Time           `gorm:"not null;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"not null;autoUpdateTime"`
}

func (Instance) TableName() string { return "workflow_instances" }

// Checkpoint is an opaque, versioned snapshot of in-flight workflow state
// keyed by thread id. Written at every state transition; the only place
// cross-suspension state may live.
type Checkpoint struct {
	ID        string              `gorm:"primaryKey;size:64"`
	ThreadID  string              `gorm:"size:64;not null;index:idx_checkpoints_thread_version,unique,priority:1"`
	Version   int                 `gorm:"not null;index:idx_checkpoints_thread_version,unique,priority:2"`
	State     types.WorkflowState `gorm:"size:32;not null"`
	Payload   json.RawMessage     `gorm:"type:jsonb;not null"`
	CreatedAt time.Time           `gorm:"not null;autoCreateTime"`
}

func (Checkpoint) TableName() string { return "workflow_checkpoints" }

// Decision is one append-only ledger row. The compound index on
// (user_id, timestamp) and secondary index on action_type back the
// statistics and history queries.
type Decision struct {
	ID                   string           `gorm:"primaryKey;size:64"`
	UserID               string           `gorm:"size:64;not null;index:idx_decisions_user_ts,priority:1"`
	WorkItemID           string           `gorm:"size:64;not null;index"`
	Action               types.ActionType `gorm:"size:32;not null;index"`
	AISuggestedCategory  string           `gorm:"size:128"`
	UserSelectedCategory string           `gorm:"size:128"`
	Approved             bool             `gorm:"not null"`
	Timestamp            time.Time        `gorm:"not null;index:idx_decisions_user_ts,priority:2"`
}

func (Decision) TableName() string { return "approval_decisions" }

// ToType converts the ledger row to the domain type.
func (m *Decision) ToType() *types.ApprovalDecision {
	return &types.ApprovalDecision{
		ID:                   m.ID,
		UserID:               m.UserID,
		WorkItemID:           m.WorkItemID,
		Action:               m.Action,
		AISuggestedCategory:  m.AISuggestedCategory,
		UserSelectedCategory: m.UserSelectedCategory,
		Approved:             m.Approved,
		Timestamp:            m.Timestamp,
	}
}

// Preference persists per-user notification settings.
type Preference struct {
	UserID            string    `gorm:"primaryKey;size:64"`
	BatchEnabled      bool      `gorm:"not null;default:true"`
	BatchTime         string    `gorm:"size:5;not null;default:'09:00'"`
	PriorityImmediate bool      `gorm:"not null;default:true"`
	QuietHoursStart   string    `gorm:"size:5"`
	QuietHoursEnd     string    `gorm:"size:5"`
	Recipient         string    `gorm:"size:255;not null"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime"`
}

func (Preference) TableName() string { return "notification_preferences" }

// ToType converts the record to the domain type.
func (m *Preference) ToType() *types.NotificationPreference {
	return &types.NotificationPreference{
		UserID:            m.UserID,
		BatchEnabled:      m.BatchEnabled,
		BatchTime:         m.BatchTime,
		PriorityImmediate: m.PriorityImmediate,
		QuietHoursStart:   m.QuietHoursStart,
		QuietHoursEnd:     m.QuietHoursEnd,
		Recipient:         m.Recipient,
	}
}
