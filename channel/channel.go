// Package channel abstracts the approval channel: sending a proposal with
// action buttons, editing a sent message, and receiving decision callbacks.
// The engine never depends on the concrete transport, so the channel is
// swappable.
package channel

import "context"

// Action is one button attached to a proposal message.
type Action struct {
	ID    string `json:"id"` // approve | reject | change_category:<cat>
	Label string `json:"label"`
}

// Messenger is the outbound capability surface consumed by the engine and
// the notification dispatcher. The inbound decision payload
// (types.Decision) arrives asynchronously through the collaborator's own
// transport and is delivered to the engine's Resume.
type Messenger interface {
	// SendProposal sends a proposal message with action buttons and
	// returns the channel's external message id.
	SendProposal(ctx context.Context, recipient, text string, actions []Action) (string, error)

	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, externalMessageID, text string) error
}

// StandardActions returns the three decision buttons offered with every
// proposal, with category-change options for the given candidates.
func StandardActions(candidates []string) []Action {
	actions := []Action{
		{ID: "approve", Label: "Approve"},
		{ID: "reject", Label: "Reject"},
	}
	for _, cat := range candidates {
		actions = append(actions, Action{ID: "change_category:" + cat, Label: "Move to " + cat})
	}
	return actions
}
