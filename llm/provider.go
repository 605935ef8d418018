// Package llm defines the language model surface the workflow depends on
// and the classifier built on top of it.
package llm

import "context"

// ClassificationResult is the structured output of a classification call.
type ClassificationResult struct {
	Category     string  `json:"category"`
	Reasoning    string  `json:"reasoning"`
	PriorityHint int     `json:"priority_hint"`
	Confidence   float64 `json:"confidence"`
	// NeedsReply is set when the email asks for a response; Tone is the
	// model's suggestion for drafting it.
	NeedsReply bool   `json:"needs_reply"`
	Tone       string `json:"tone,omitempty"`
}

// Provider is a single language model backend. Implementations translate
// these calls into whatever wire protocol the backend speaks and map
// failures onto the types error kinds so the retry layer can act on them.
type Provider interface {
	// Classify assigns one of the candidate categories to the message,
	// given the retrieved thread context.
	Classify(ctx context.Context, prompt string) (*ClassificationResult, error)

	// GenerateReply drafts a reply body for an approved message.
	GenerateReply(ctx context.Context, prompt string) (string, error)

	// Embed returns the embedding vector for a text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}
