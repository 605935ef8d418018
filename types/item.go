package types

import "time"

// ItemStatus tracks a work item through its lifecycle. It mirrors the
// workflow state at a coarser granularity suitable for listing and dedup.
type ItemStatus string

const (
	ItemStatusPending          ItemStatus = "pending"
	ItemStatusProcessing       ItemStatus = "processing"
	ItemStatusAwaitingApproval ItemStatus = "awaiting_approval"
	ItemStatusCompleted        ItemStatus = "completed"
	ItemStatusRejected         ItemStatus = "rejected"
	ItemStatusError            ItemStatus = "error"
)

// Terminal reports whether the status admits no further processing.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusRejected, ItemStatusError:
		return true
	}
	return false
}

// WorkItem is one inbound message under consideration.
//
// ProviderMessageID is the mail provider's externally-unique identifier and
// serves as the poller's dedup key. MailThreadID identifies the provider
// conversation the message belongs to; it is distinct from the workflow
// thread id, which names one orchestration run.
type WorkItem struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	ProviderMessageID string     `json:"provider_message_id"`
	MailThreadID      string     `json:"mail_thread_id"`
	Sender            string     `json:"sender"`
	Subject           string     `json:"subject"`
	BodyPreview       string     `json:"body_preview"`
	Status            ItemStatus `json:"status"`
	PriorityScore     int        `json:"priority_score"`
	ProposedCategory  string     `json:"proposed_category"`
	Reasoning         string     `json:"reasoning,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ThreadMessage is one prior message in the same mail conversation,
// returned by the mail provider in recency order.
type ThreadMessage struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// NotificationPreference is per-user dispatch configuration, read-only
// input to the notification dispatcher.
type NotificationPreference struct {
	UserID            string `json:"user_id"`
	BatchEnabled      bool   `json:"batch_enabled"`
	BatchTime         string `json:"batch_time"` // "HH:MM" local to the user
	PriorityImmediate bool   `json:"priority_immediate"`
	QuietHoursStart   string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     string `json:"quiet_hours_end,omitempty"`
	Recipient         string `json:"recipient"` // channel address the proposals go to
}
