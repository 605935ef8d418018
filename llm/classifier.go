package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/retry"
	"github.com/BaSui01/mailflow/types"
)

// Unclassified is the fallback category used when the model returns a
// category outside the candidate set or a confidence below the
// configured threshold.
const Unclassified = "unclassified"

// defaultReasoningChars bounds the reasoning text when the config leaves
// the limit unset.
const defaultReasoningChars = 300

// Classifier wraps a Provider with retries, candidate enforcement and a
// confidence floor. Malformed model output degrades to Unclassified so a
// human still sees the item; provider failures that survive the retry
// policy are returned to the caller.
type Classifier struct {
	provider     Provider
	runner       *retry.Runner
	candidates   []string
	threshold    float64
	maxReasoning int
	logger       *zap.Logger
}

// NewClassifier builds a classifier over the given provider. Candidate
// categories, the confidence threshold and the reasoning length cap all
// come from the LLM config.
func NewClassifier(provider Provider, runner *retry.Runner, cfg config.LLMConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxReasoning := cfg.MaxReasoningChars
	if maxReasoning <= 0 {
		maxReasoning = defaultReasoningChars
	}
	return &Classifier{
		provider:     provider,
		runner:       runner,
		candidates:   cfg.Categories,
		threshold:    cfg.ConfidenceThreshold,
		maxReasoning: maxReasoning,
		logger:       logger.With(zap.String("component", "classifier")),
	}
}

// Candidates returns the candidate category set.
func (c *Classifier) Candidates() []string { return c.candidates }

// Classify runs the model over the message and its retrieved context.
// A non-nil error means the provider stayed unreachable through the
// retry policy; the returned result is otherwise always safe to act on.
func (c *Classifier) Classify(ctx context.Context, item types.WorkItem, contextText string) (*ClassificationResult, error) {
	prompt := c.buildPrompt(item, contextText)

	var result *ClassificationResult
	err := c.runner.Do(ctx, "classify", func(ctx context.Context) error {
		var callErr error
		result, callErr = c.provider.Classify(ctx, prompt)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("classify item %s: %w", item.ID, err)
	}

	return c.sanitize(item.ID, result), nil
}

// sanitize enforces the candidate set, the confidence floor and field
// bounds on a raw model result.
func (c *Classifier) sanitize(itemID string, r *ClassificationResult) *ClassificationResult {
	out := *r
	if out.Confidence < 0 {
		out.Confidence = 0
	} else if out.Confidence > 1 {
		out.Confidence = 1
	}
	switch {
	case !c.isCandidate(out.Category):
		c.logger.Warn("model returned non-candidate category",
			zap.String("work_item_id", itemID),
			zap.String("category", out.Category))
		out.Category = Unclassified
		out.Confidence = 0
	case out.Confidence < c.threshold:
		c.logger.Warn("classification below confidence threshold",
			zap.String("work_item_id", itemID),
			zap.String("category", out.Category),
			zap.Float64("confidence", out.Confidence),
			zap.Float64("threshold", c.threshold))
		out.Category = Unclassified
	}
	if runes := []rune(out.Reasoning); len(runes) > c.maxReasoning {
		out.Reasoning = string(runes[:c.maxReasoning])
	}
	if out.PriorityHint < 0 {
		out.PriorityHint = 0
	} else if out.PriorityHint > 100 {
		out.PriorityHint = 100
	}
	return &out
}

func (c *Classifier) isCandidate(category string) bool {
	for _, cand := range c.candidates {
		if cand == category {
			return true
		}
	}
	return false
}

func (c *Classifier) buildPrompt(item types.WorkItem, contextText string) string {
	var b strings.Builder
	b.WriteString("Classify the following email into exactly one category.\n")
	fmt.Fprintf(&b, "Categories: %s\n\n", strings.Join(c.candidates, ", "))
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nBody:\n%s\n", item.Sender, item.Subject, item.BodyPreview)
	if contextText != "" {
		b.WriteString("\nRelated prior correspondence:\n")
		b.WriteString(contextText)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nRespond with the category, a short reasoning (max %d chars), a priority hint 0-100, a confidence 0-1, whether the email needs a reply and if so the appropriate tone.", c.maxReasoning)
	return b.String()
}

// ReplyPrompt assembles the prompt for drafting a reply to an approved
// message. Tone is taken from the user's stored preference.
func ReplyPrompt(item types.WorkItem, tone string) string {
	if tone == "" {
		tone = "neutral and concise"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a %s reply to the following email.\n\n", tone)
	fmt.Fprintf(&b, "From: %s\nSubject: %s\nBody:\n%s\n", item.Sender, item.Subject, item.BodyPreview)
	b.WriteString("\nReturn only the reply body.")
	return b.String()
}
