package types

import "time"

// ActionType is the human decision delivered through the approval channel.
type ActionType string

const (
	ActionApprove        ActionType = "approve"
	ActionReject         ActionType = "reject"
	ActionChangeCategory ActionType = "change_category"
)

// Valid reports whether the action type is one of the known variants.
func (a ActionType) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionChangeCategory:
		return true
	}
	return false
}

// Decision is the inbound payload from the approval channel. Exactly one of
// WorkItemID or ChannelMessageID must identify the suspended workflow;
// SelectedCategory is set only for change_category.
type Decision struct {
	WorkItemID       string     `json:"work_item_id,omitempty"`
	ChannelMessageID string     `json:"channel_message_id,omitempty"`
	UserID           string     `json:"user_id"`
	Action           ActionType `json:"action_type"`
	SelectedCategory string     `json:"selected_category,omitempty"`
}

// ApprovalDecision is one immutable row of the decision ledger.
// Approved derives from the action: true unless the action is reject.
type ApprovalDecision struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	WorkItemID           string     `json:"work_item_id"`
	Action               ActionType `json:"action_type"`
	AISuggestedCategory  string     `json:"ai_suggested_category"`
	UserSelectedCategory string     `json:"user_selected_category"`
	Approved             bool       `json:"approved"`
	Timestamp            time.Time  `json:"timestamp"`
}

// Statistics aggregates the ledger for one user.
// ApprovalRate = (approved + changed) / total; zero when the ledger is empty.
type Statistics struct {
	Total         int             `json:"total_decisions"`
	Approved      int             `json:"approved"`
	Rejected      int             `json:"rejected"`
	FolderChanged int             `json:"folder_changed"`
	ApprovalRate  float64         `json:"approval_rate"`
	TopCategories []CategoryCount `json:"top_categories"`
}

// CategoryCount is one entry of Statistics.TopCategories.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
