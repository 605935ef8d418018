// Package mail defines the mail provider collaborator contract. Concrete
// transports (Gmail, IMAP, ...) live outside this module; the engine only
// depends on this interface.
package mail

import (
	"context"

	"github.com/BaSui01/mailflow/types"
)

// Provider is the mail collaborator surface the engine consumes.
// Implementations must be safe for concurrent use; ApplyCategory and
// SendReply must be idempotent so the retry policy can replay them.
type Provider interface {
	// GetThreadHistory returns recent messages of the conversation,
	// newest last.
	GetThreadHistory(ctx context.Context, mailThreadID string) ([]types.ThreadMessage, error)

	// ApplyCategory applies the category (label/folder) to the message.
	ApplyCategory(ctx context.Context, providerMessageID, category string) error

	// SendReply sends a reply into the conversation.
	SendReply(ctx context.Context, providerMessageID, mailThreadID, body string) error
}
