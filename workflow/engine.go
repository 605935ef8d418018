package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/channel"
	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/internal/retry"
	"github.com/BaSui01/mailflow/llm"
	"github.com/BaSui01/mailflow/mail"
	"github.com/BaSui01/mailflow/priority"
	"github.com/BaSui01/mailflow/rag"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// run is the unit of work threaded through the handlers.
type run struct {
	threadID string
	snap     *Snapshot
}

// handler advances one state and names the next. Handlers mutate the
// snapshot; the engine persists it after every transition.
type handler func(ctx context.Context, r *run) (types.WorkflowState, error)

// ContextRetriever supplies the classification context for an item.
// *rag.Retriever is the production implementation.
type ContextRetriever interface {
	Retrieve(ctx context.Context, item types.WorkItem, thread []types.ThreadMessage) *rag.ContextBundle
}

// EmailClassifier proposes a category. *llm.Classifier is the production
// implementation; it degrades malformed model output and errors only
// when the provider stays unreachable through the retry policy.
type EmailClassifier interface {
	Classify(ctx context.Context, item types.WorkItem, contextText string) (*llm.ClassificationResult, error)
}

// ProposalDispatcher routes proposals to the user. *notify.Dispatcher is
// the production implementation.
type ProposalDispatcher interface {
	Dispatch(ctx context.Context, threadID string, item types.WorkItem, reasoning string, immediate bool) error
}

// DecisionLedger is the slice of the history service the engine needs.
type DecisionLedger interface {
	RecordDecision(ctx context.Context, item *types.WorkItem, decision types.Decision, finalCategory string) error
	HasDecision(ctx context.Context, workItemID string) (bool, error)
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Items       *store.ItemStore
	Instances   *store.InstanceStore
	Checkpoints *store.CheckpointStore
	Ledger      DecisionLedger
	Mail        mail.Provider
	Messenger   channel.Messenger
	Retriever   ContextRetriever
	Classifier  EmailClassifier
	Model       llm.Provider
	Detector    *priority.Detector
	Dispatcher  ProposalDispatcher
	Runner      *retry.Runner
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

// Engine drives work items through the state machine. It is stateless
// between calls; a process restart loses nothing.
type Engine struct {
	deps     Deps
	handlers map[types.WorkflowState]handler
	logger   *zap.Logger
}

// NewEngine builds the engine and its state handler table.
func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	e := &Engine{
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "workflow")),
	}
	e.handlers = map[types.WorkflowState]handler{
		types.StateInitialized:       e.handleInitialized,
		types.StateExtractingContext: e.handleExtractContext,
		types.StateClassifying:       e.handleClassify,
		types.StateDetectingPriority: e.handleDetectPriority,
		types.StateNotifying:         e.handleNotify,
		types.StateExecutingAction:   e.handleExecuteAction,
		types.StateConfirming:        e.handleConfirm,
	}
	return e
}

// Start begins a workflow for a persisted work item and runs it up to the
// approval suspension. Returns the new thread id. A second Start for the
// same item fails with store.ErrDuplicate.
func (e *Engine) Start(ctx context.Context, item *types.WorkItem) (string, error) {
	threadID := uuid.NewString()
	err := e.deps.Instances.Create(ctx, &store.Instance{
		ThreadID:   threadID,
		WorkItemID: item.ID,
		State:      types.StateInitialized,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			e.logger.Warn("workflow already exists for item", zap.String("work_item_id", item.ID))
		}
		e.metric(func(m *metrics.Collector) { m.WorkflowStarted("rejected") })
		return "", err
	}

	snap := &Snapshot{Item: *item}
	if _, err := e.deps.Checkpoints.Save(ctx, threadID, types.StateInitialized, snap); err != nil {
		e.fail(ctx, threadID, snap, err)
		return "", err
	}

	e.logger.Info("workflow started",
		zap.String("thread_id", threadID),
		zap.String("work_item_id", item.ID))

	if err := e.advance(ctx, threadID, types.StateInitialized, snap); err != nil {
		e.metric(func(m *metrics.Collector) { m.WorkflowStarted("error") })
		return threadID, err
	}
	e.metric(func(m *metrics.Collector) { m.WorkflowStarted("ok") })
	return threadID, nil
}

// advance runs handlers until the workflow suspends or terminates. Every
// transition is CAS-guarded and checkpointed before the next handler runs.
func (e *Engine) advance(ctx context.Context, threadID string, state types.WorkflowState, snap *Snapshot) error {
	for {
		h, ok := e.handlers[state]
		if !ok {
			err := fmt.Errorf("no handler for state %s", state)
			e.fail(ctx, threadID, snap, err)
			return err
		}

		started := time.Now()
		next, err := h(ctx, &run{threadID: threadID, snap: snap})
		if err != nil {
			e.fail(ctx, threadID, snap, err)
			return err
		}
		e.metric(func(m *metrics.Collector) { m.PhaseDuration(string(state), time.Since(started)) })

		if err := e.transition(ctx, threadID, state, next, snap); err != nil {
			e.fail(ctx, threadID, snap, err)
			return err
		}
		state = next

		if state == types.StateAwaitingApproval {
			if err := e.deps.Items.SetStatus(ctx, snap.Item.ID, state.ItemStatus()); err != nil {
				return err
			}
			e.logger.Info("workflow suspended",
				zap.String("thread_id", threadID),
				zap.String("work_item_id", snap.Item.ID))
			return nil
		}
		if state.Terminal() {
			if err := e.deps.Items.SetStatus(ctx, snap.Item.ID, state.ItemStatus()); err != nil {
				return err
			}
			e.logger.Info("workflow finished",
				zap.String("thread_id", threadID),
				zap.String("state", string(state)))
			return nil
		}
	}
}

// transition moves the instance forward and checkpoints the snapshot. The
// CAS guarantees only one caller ever owns a given step.
func (e *Engine) transition(ctx context.Context, threadID string, from, to types.WorkflowState, snap *Snapshot) error {
	moved, err := e.deps.Instances.Transition(ctx, threadID, from, to)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("lost transition %s -> %s for thread %s", from, to, threadID)
	}
	if _, err := e.deps.Checkpoints.Save(ctx, threadID, to, snap); err != nil {
		return err
	}
	e.metric(func(m *metrics.Collector) { m.StateTransition(string(from), string(to)) })
	return nil
}

// fail parks the workflow in the terminal error state. The instance and
// its checkpoints stay behind for inspection.
func (e *Engine) fail(ctx context.Context, threadID string, snap *Snapshot, cause error) {
	e.logger.Error("workflow failed",
		zap.String("thread_id", threadID),
		zap.String("work_item_id", snap.Item.ID),
		zap.String("kind", string(types.Kind(cause))),
		zap.Error(cause))

	if err := e.deps.Instances.ForceState(ctx, threadID, types.StateError, cause.Error()); err != nil {
		e.logger.Error("failed to park workflow in error state", zap.Error(err))
	}
	if err := e.deps.Items.SetStatus(ctx, snap.Item.ID, types.ItemStatusError); err != nil {
		e.logger.Error("failed to mark item errored", zap.Error(err))
	}
	e.notifyFailure(ctx, threadID, snap, cause)
}

// notifyFailure edits the proposal message, when one exists, so the user
// learns the outcome in plain language.
func (e *Engine) notifyFailure(ctx context.Context, threadID string, snap *Snapshot, cause error) {
	inst, err := e.deps.Instances.Get(ctx, threadID)
	if err != nil || inst.ChannelMessageID == "" {
		return
	}
	text := fmt.Sprintf("Could not process %q: %s. The email is untouched; please handle it manually.",
		snap.Item.Subject, humanReason(cause))
	if err := e.deps.Messenger.EditMessage(ctx, inst.ChannelMessageID, text); err != nil {
		e.logger.Warn("failed to notify user of workflow failure", zap.Error(err))
	}
}

// humanReason strips the error chain down to something a non-engineer can
// read in a chat message.
func humanReason(err error) string {
	switch types.Kind(err) {
	case types.ErrTransient:
		return "the mail service kept timing out"
	case types.ErrAuthExpired:
		return "the mail connection needs to be re-authorized"
	case types.ErrQuotaExceeded:
		return "a service quota was exhausted"
	default:
		return "the request was rejected"
	}
}

func (e *Engine) metric(fn func(*metrics.Collector)) {
	if e.deps.Metrics != nil {
		fn(e.deps.Metrics)
	}
}

// ---- pre-suspension handlers ----

func (e *Engine) handleInitialized(_ context.Context, _ *run) (types.WorkflowState, error) {
	return types.StateExtractingContext, nil
}

func (e *Engine) handleExtractContext(ctx context.Context, r *run) (types.WorkflowState, error) {
	var thread []types.ThreadMessage
	err := e.deps.Runner.Do(ctx, "get_thread_history", func(ctx context.Context) error {
		var callErr error
		thread, callErr = e.deps.Mail.GetThreadHistory(ctx, r.snap.Item.MailThreadID)
		return callErr
	})
	if err != nil {
		return "", err
	}
	r.snap.Context = e.deps.Retriever.Retrieve(ctx, r.snap.Item, thread)
	return types.StateClassifying, nil
}

func (e *Engine) handleClassify(ctx context.Context, r *run) (types.WorkflowState, error) {
	var contextText string
	if r.snap.Context != nil {
		contextText = r.snap.Context.Render()
	}
	result, err := e.deps.Classifier.Classify(ctx, r.snap.Item, contextText)
	if err != nil {
		return "", err
	}
	r.snap.Classification = result
	r.snap.Item.ProposedCategory = result.Category
	r.snap.Item.Reasoning = result.Reasoning
	return types.StateDetectingPriority, nil
}

func (e *Engine) handleDetectPriority(ctx context.Context, r *run) (types.WorkflowState, error) {
	score := e.deps.Detector.Score(r.snap.Item)
	r.snap.PriorityScore = score
	r.snap.Immediate = e.deps.Detector.Immediate(score)
	r.snap.Item.PriorityScore = score

	err := e.deps.Items.SetClassification(ctx, r.snap.Item.ID, r.snap.Item.ProposedCategory, score, r.snap.Item.Reasoning)
	if err != nil {
		return "", err
	}
	return types.StateNotifying, nil
}

func (e *Engine) handleNotify(ctx context.Context, r *run) (types.WorkflowState, error) {
	var reasoning string
	if r.snap.Classification != nil {
		reasoning = r.snap.Classification.Reasoning
	}
	err := e.deps.Dispatcher.Dispatch(ctx, r.threadID, r.snap.Item, reasoning, r.snap.Immediate)
	if err != nil {
		return "", err
	}
	return types.StateAwaitingApproval, nil
}
