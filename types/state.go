package types

// WorkflowState is the closed set of engine states. The engine holds a
// lookup table mapping each non-terminal state to its handler, so adding a
// state without wiring a handler fails fast at startup.
type WorkflowState string

const (
	StateInitialized       WorkflowState = "initialized"
	StateExtractingContext WorkflowState = "extracting_context"
	StateClassifying       WorkflowState = "classifying"
	StateDetectingPriority WorkflowState = "detecting_priority"
	StateNotifying         WorkflowState = "notifying"
	StateAwaitingApproval  WorkflowState = "awaiting_approval"
	StateExecutingAction   WorkflowState = "executing_action"
	StateConfirming        WorkflowState = "confirming"
	StateCompleted         WorkflowState = "completed"
	StateRejected          WorkflowState = "rejected"
	StateError             WorkflowState = "error"
)

// Terminal reports whether the state admits no further transitions.
// Error is terminal and non-resumable without manual intervention.
func (s WorkflowState) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateError:
		return true
	}
	return false
}

// ItemStatus maps the workflow state onto the coarser work-item status.
func (s WorkflowState) ItemStatus() ItemStatus {
	switch s {
	case StateCompleted:
		return ItemStatusCompleted
	case StateRejected:
		return ItemStatusRejected
	case StateError:
		return ItemStatusError
	case StateAwaitingApproval:
		return ItemStatusAwaitingApproval
	default:
		return ItemStatusProcessing
	}
}
