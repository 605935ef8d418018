// Package workflow runs the durable email-triage state machine: context
// retrieval, classification, priority detection, notification, suspension
// at human approval, and decision-driven action execution. No goroutine
// ever blocks across the suspension; all in-flight state lives in
// versioned checkpoints.
package workflow

import (
	"github.com/BaSui01/mailflow/llm"
	"github.com/BaSui01/mailflow/rag"
	"github.com/BaSui01/mailflow/types"
)

// Snapshot is the checkpoint payload written at every state transition.
// It must carry everything a resumed workflow needs so that no phase
// before the suspension ever re-runs.
type Snapshot struct {
	Item           types.WorkItem            `json:"item"`
	Context        *rag.ContextBundle        `json:"context,omitempty"`
	Classification *llm.ClassificationResult `json:"classification,omitempty"`
	PriorityScore  int                       `json:"priority_score"`
	Immediate      bool                      `json:"immediate"`
	Decision       *types.Decision           `json:"decision,omitempty"`
}

// FinalCategory resolves the category the action executor applies: the
// user's pick for change_category, the proposal otherwise.
func (s *Snapshot) FinalCategory() string {
	if s.Decision != nil && s.Decision.Action == types.ActionChangeCategory {
		return s.Decision.SelectedCategory
	}
	return s.Item.ProposedCategory
}
