package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/llm"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// Resume applies a human decision to a suspended workflow and drives it to
// a terminal state. Callbacks referencing unknown, terminal, or already
// claimed workflows are dropped as stale; the caller should acknowledge
// them without retrying.
func (e *Engine) Resume(ctx context.Context, decision types.Decision) error {
	if err := validateDecision(decision); err != nil {
		e.metric(func(m *metrics.Collector) { m.WorkflowResumed("invalid") })
		return err
	}

	inst, err := e.lookup(ctx, decision)
	if err != nil {
		if types.IsStaleCallback(err) {
			e.dropStale(decision, "no suspended workflow for callback")
		}
		return err
	}
	if inst.State.Terminal() {
		e.dropStale(decision, "workflow already terminal")
		return types.NewError(types.ErrStaleCallback,
			fmt.Sprintf("workflow %s is already %s", inst.ThreadID, inst.State))
	}

	// Exactly one resumer wins the suspension.
	claimed, err := e.deps.Instances.Transition(ctx, inst.ThreadID,
		types.StateAwaitingApproval, types.StateExecutingAction)
	if err != nil {
		return err
	}
	if !claimed {
		e.dropStale(decision, "workflow not awaiting approval")
		return types.NewError(types.ErrStaleCallback,
			fmt.Sprintf("workflow %s is not awaiting approval", inst.ThreadID))
	}

	cp, err := e.deps.Checkpoints.LoadLatest(ctx, inst.ThreadID)
	if err != nil {
		e.failResume(ctx, inst.ThreadID, &Snapshot{Item: types.WorkItem{ID: inst.WorkItemID}}, err)
		return err
	}
	snap := new(Snapshot)
	if err := cp.Decode(snap); err != nil {
		e.failResume(ctx, inst.ThreadID, snap, err)
		return err
	}
	snap.Decision = &decision

	if _, err := e.deps.Checkpoints.Save(ctx, inst.ThreadID, types.StateExecutingAction, snap); err != nil {
		e.failResume(ctx, inst.ThreadID, snap, err)
		return err
	}
	e.metric(func(m *metrics.Collector) {
		m.StateTransition(string(types.StateAwaitingApproval), string(types.StateExecutingAction))
	})

	e.logger.Info("workflow resumed",
		zap.String("thread_id", inst.ThreadID),
		zap.String("work_item_id", snap.Item.ID),
		zap.String("action", string(decision.Action)))

	if err := e.advance(ctx, inst.ThreadID, types.StateExecutingAction, snap); err != nil {
		e.metric(func(m *metrics.Collector) { m.WorkflowResumed("error") })
		return err
	}
	e.metric(func(m *metrics.Collector) { m.WorkflowResumed("ok") })
	return nil
}

func validateDecision(d types.Decision) error {
	if !d.Action.Valid() {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown action %q", d.Action))
	}
	if d.Action == types.ActionChangeCategory && d.SelectedCategory == "" {
		return types.NewError(types.ErrInvalidRequest,
			"change_category requires a selected category")
	}
	if d.WorkItemID == "" && d.ChannelMessageID == "" {
		return types.NewError(types.ErrInvalidRequest,
			"decision identifies neither a work item nor a channel message")
	}
	return nil
}

// lookup resolves the callback to its suspended instance by work item id
// or by the channel message id carried in the button payload.
func (e *Engine) lookup(ctx context.Context, d types.Decision) (*store.Instance, error) {
	var (
		inst *store.Instance
		err  error
	)
	if d.WorkItemID != "" {
		inst, err = e.deps.Instances.GetByWorkItemID(ctx, d.WorkItemID)
	} else {
		inst, err = e.deps.Instances.GetByChannelMessageID(ctx, d.ChannelMessageID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewError(types.ErrStaleCallback, "no workflow for callback").WithCause(err)
	}
	return inst, err
}

// dropStale records a stale callback. Stale callbacks are routine, not
// failures: duplicate button presses and restarts of the channel client
// both produce them.
func (e *Engine) dropStale(d types.Decision, reason string) {
	e.logger.Warn("stale callback dropped",
		zap.String("work_item_id", d.WorkItemID),
		zap.String("channel_message_id", d.ChannelMessageID),
		zap.String("action", string(d.Action)),
		zap.String("reason", reason))
	e.metric(func(m *metrics.Collector) {
		m.StaleCallback()
		m.WorkflowResumed("stale")
	})
}

// failResume is fail() for the resume path; resume failures count on the
// resume metric.
func (e *Engine) failResume(ctx context.Context, threadID string, snap *Snapshot, cause error) {
	e.fail(ctx, threadID, snap, cause)
	e.metric(func(m *metrics.Collector) { m.WorkflowResumed("error") })
}

// ---- post-suspension handlers ----

// handleExecuteAction performs the side effect the decision asks for. The
// ledger check makes replays safe: if the decision was already recorded,
// the action already ran.
func (e *Engine) handleExecuteAction(ctx context.Context, r *run) (types.WorkflowState, error) {
	recorded, err := e.deps.Ledger.HasDecision(ctx, r.snap.Item.ID)
	if err != nil {
		return "", err
	}
	if recorded {
		e.logger.Info("action already executed, skipping",
			zap.String("work_item_id", r.snap.Item.ID))
		return types.StateConfirming, nil
	}

	switch r.snap.Decision.Action {
	case types.ActionReject:
		// The user declined; the mailbox is left untouched.
	case types.ActionApprove, types.ActionChangeCategory:
		if err := e.applyCategory(ctx, r.snap); err != nil {
			return "", err
		}
		if err := e.maybeReply(ctx, r.snap); err != nil {
			return "", err
		}
	}
	return types.StateConfirming, nil
}

func (e *Engine) applyCategory(ctx context.Context, snap *Snapshot) error {
	category := snap.FinalCategory()
	return e.deps.Runner.Do(ctx, "apply_category", func(ctx context.Context) error {
		return e.deps.Mail.ApplyCategory(ctx, snap.Item.ProviderMessageID, category)
	})
}

// maybeReply drafts and sends a reply when the classifier flagged the
// email as expecting one and the user approved the proposal as-is.
func (e *Engine) maybeReply(ctx context.Context, snap *Snapshot) error {
	c := snap.Classification
	if c == nil || !c.NeedsReply || snap.Decision.Action != types.ActionApprove {
		return nil
	}

	prompt := llm.ReplyPrompt(snap.Item, c.Tone)
	var draft string
	err := e.deps.Runner.Do(ctx, "generate_reply", func(ctx context.Context) error {
		var callErr error
		draft, callErr = e.deps.Model.GenerateReply(ctx, prompt)
		return callErr
	})
	if err != nil {
		return err
	}
	return e.deps.Runner.Do(ctx, "send_reply", func(ctx context.Context) error {
		return e.deps.Mail.SendReply(ctx, snap.Item.ProviderMessageID, snap.Item.MailThreadID, draft)
	})
}

// handleConfirm records the decision in the ledger and rewrites the
// proposal message with the outcome, then terminates the workflow.
func (e *Engine) handleConfirm(ctx context.Context, r *run) (types.WorkflowState, error) {
	if err := e.deps.Ledger.RecordDecision(ctx, &r.snap.Item, *r.snap.Decision, r.snap.FinalCategory()); err != nil {
		return "", err
	}

	inst, err := e.deps.Instances.Get(ctx, r.threadID)
	if err != nil {
		return "", err
	}
	if inst.ChannelMessageID != "" {
		if err := e.deps.Messenger.EditMessage(ctx, inst.ChannelMessageID, confirmationText(r.snap)); err != nil {
			// The decision is applied and recorded; a failed edit is not
			// worth erroring the workflow over.
			e.logger.Warn("failed to edit proposal message",
				zap.String("thread_id", r.threadID), zap.Error(err))
		}
	}

	if r.snap.Decision.Action == types.ActionReject {
		return types.StateRejected, nil
	}
	return types.StateCompleted, nil
}

func confirmationText(snap *Snapshot) string {
	switch snap.Decision.Action {
	case types.ActionReject:
		return fmt.Sprintf("Rejected: %q was left untouched.", snap.Item.Subject)
	case types.ActionChangeCategory:
		return fmt.Sprintf("Done: %q filed under %s (you overrode %s).",
			snap.Item.Subject, snap.FinalCategory(), snap.Item.ProposedCategory)
	default:
		return fmt.Sprintf("Done: %q filed under %s.", snap.Item.Subject, snap.FinalCategory())
	}
}
