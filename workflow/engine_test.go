package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/mailflow/channel"
	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/history"
	"github.com/BaSui01/mailflow/internal/retry"
	"github.com/BaSui01/mailflow/llm"
	"github.com/BaSui01/mailflow/priority"
	"github.com/BaSui01/mailflow/rag"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// ---- collaborator fakes ----

type fakeMail struct {
	mu         sync.Mutex
	thread     []types.ThreadMessage
	threadErr  error
	applied    map[string]string // provider message id -> category
	applyCalls int
	applyErrs  []error
	replies    []string
}

func newFakeMail() *fakeMail {
	return &fakeMail{applied: make(map[string]string)}
}

func (f *fakeMail) GetThreadHistory(context.Context, string) ([]types.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thread, f.threadErr
}

func (f *fakeMail) ApplyCategory(_ context.Context, providerMessageID, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		if err != nil {
			return err
		}
	}
	f.applied[providerMessageID] = category
	return nil
}

func (f *fakeMail) SendReply(_ context.Context, _, _ string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, body)
	return nil
}

type fakeModel struct{ reply string }

func (f *fakeModel) Classify(context.Context, string) (*llm.ClassificationResult, error) {
	return nil, types.NewError(types.ErrInvalidRequest, "not used")
}
func (f *fakeModel) GenerateReply(context.Context, string) (string, error) { return f.reply, nil }
func (f *fakeModel) Embed(context.Context, string) ([]float64, error)      { return nil, nil }
func (f *fakeModel) Name() string                                          { return "fake" }

type fakeMessenger struct {
	mu    sync.Mutex
	edits map[string]string
}

func (f *fakeMessenger) SendProposal(context.Context, string, string, []channel.Action) (string, error) {
	return "", nil
}

func (f *fakeMessenger) EditMessage(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edits == nil {
		f.edits = make(map[string]string)
	}
	f.edits[id] = text
	return nil
}

type stubRetriever struct{ bundle *rag.ContextBundle }

func (s *stubRetriever) Retrieve(context.Context, types.WorkItem, []types.ThreadMessage) *rag.ContextBundle {
	if s.bundle != nil {
		return s.bundle
	}
	return &rag.ContextBundle{}
}

type stubClassifier struct {
	result *llm.ClassificationResult
	err    error
}

func (s *stubClassifier) Classify(context.Context, types.WorkItem, string) (*llm.ClassificationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type dispatchCall struct {
	ThreadID  string
	ItemID    string
	Immediate bool
}

// fakeDispatcher marks the proposal as sent by stamping a channel message
// id, like the real dispatcher does after a send.
type fakeDispatcher struct {
	mu        sync.Mutex
	instances *store.InstanceStore
	calls     []dispatchCall
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, threadID string, item types.WorkItem, _ string, immediate bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{ThreadID: threadID, ItemID: item.ID, Immediate: immediate})
	f.mu.Unlock()
	return f.instances.SetChannelMessageID(ctx, threadID, "chanmsg-"+item.ID)
}

// ---- fixture ----

type fixture struct {
	db         *gorm.DB
	engine     *Engine
	items      *store.ItemStore
	instances  *store.InstanceStore
	ledger     *history.Service
	mail       *fakeMail
	messenger  *fakeMessenger
	dispatcher *fakeDispatcher
	classifier *stubClassifier
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	f := &fixture{
		db:        db,
		items:     store.NewItemStore(db, zap.NewNop()),
		instances: store.NewInstanceStore(db, zap.NewNop()),
		ledger:    history.NewService(store.NewDecisionStore(db, zap.NewNop()), nil, zap.NewNop()),
		mail:      newFakeMail(),
		messenger: &fakeMessenger{},
		classifier: &stubClassifier{result: &llm.ClassificationResult{
			Category: "work", Reasoning: "looks like work", Confidence: 0.9,
		}},
	}
	f.dispatcher = &fakeDispatcher{instances: f.instances}
	f.engine = f.newEngine(t)
	return f
}

// newEngine builds an engine over the fixture's database. Tests call it a
// second time to model a process restart.
func (f *fixture) newEngine(t *testing.T) *Engine {
	t.Helper()
	prioCfg := config.DefaultConfig().Priority
	prioCfg.HighPriorityDomains = []string{"bigclient.com"}
	runner := retry.NewRunner(retry.DefaultPolicy(), zap.NewNop(),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))

	return NewEngine(Deps{
		Items:       f.items,
		Instances:   f.instances,
		Checkpoints: store.NewCheckpointStore(f.db, zap.NewNop()),
		Ledger:      f.ledger,
		Mail:        f.mail,
		Messenger:   f.messenger,
		Retriever:   &stubRetriever{},
		Classifier:  f.classifier,
		Model:       &fakeModel{reply: "thanks, will do"},
		Detector:    priority.NewDetector(prioCfg),
		Dispatcher:  f.dispatcher,
		Runner:      runner,
		Logger:      zap.NewNop(),
	})
}

func (f *fixture) createItem(t *testing.T, sender, subject string) *types.WorkItem {
	t.Helper()
	item := &types.WorkItem{
		UserID:            "alice",
		ProviderMessageID: fmt.Sprintf("pm-%s-%s", sender, subject),
		MailThreadID:      "mt-1",
		Sender:            sender,
		Subject:           subject,
		BodyPreview:       "body",
	}
	require.NoError(t, f.items.Create(context.Background(), item))
	return item
}

func (f *fixture) start(t *testing.T, item *types.WorkItem) string {
	t.Helper()
	threadID, err := f.engine.Start(context.Background(), item)
	require.NoError(t, err)
	return threadID
}

// ---- tests ----

func TestStartSuspendsAtApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")

	threadID := f.start(t, item)

	inst, err := f.instances.Get(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, types.StateAwaitingApproval, inst.State)
	assert.Equal(t, "chanmsg-"+item.ID, inst.ChannelMessageID)

	got, err := f.items.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemStatusAwaitingApproval, got.Status)
	assert.Equal(t, "work", got.ProposedCategory)

	// One checkpoint per transition, initial included.
	cps, err := store.NewCheckpointStore(f.db, zap.NewNop()).ListVersions(ctx, threadID)
	require.NoError(t, err)
	assert.Len(t, cps, 6)
}

func TestStartTwiceForSameItemFails(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "bob@example.com", "minutes")
	f.start(t, item)

	_, err := f.engine.Start(context.Background(), item)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestStartHighPriorityDispatchesImmediately(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "ceo@bigclient.com", "URGENT: contract")

	f.start(t, item)

	require.Len(t, f.dispatcher.calls, 1)
	assert.True(t, f.dispatcher.calls[0].Immediate)

	got, err := f.items.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, got.PriorityScore)
}

func TestStartTransientMailFailureEndsInError(t *testing.T) {
	f := newFixture(t)
	f.mail.threadErr = types.NewError(types.ErrTransient, "imap timeout")
	item := f.createItem(t, "bob@example.com", "minutes")

	threadID, err := f.engine.Start(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransient, types.Kind(err))

	inst, gerr := f.instances.Get(context.Background(), threadID)
	require.NoError(t, gerr)
	assert.Equal(t, types.StateError, inst.State)
	assert.NotEmpty(t, inst.LastError)

	got, gerr := f.items.Get(context.Background(), item.ID)
	require.NoError(t, gerr)
	assert.Equal(t, types.ItemStatusError, got.Status)
}

func TestStartTransientClassifyFailureEndsInError(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = types.NewError(types.ErrTransient, "model overloaded")
	item := f.createItem(t, "bob@example.com", "minutes")

	threadID, err := f.engine.Start(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransient, types.Kind(err))

	inst, gerr := f.instances.Get(context.Background(), threadID)
	require.NoError(t, gerr)
	assert.Equal(t, types.StateError, inst.State)

	got, gerr := f.items.Get(context.Background(), item.ID)
	require.NoError(t, gerr)
	assert.Equal(t, types.ItemStatusError, got.Status)
	// No proposal was ever dispatched for the failed item.
	assert.Empty(t, f.dispatcher.calls)
}

func TestResumeApproveAppliesCategoryAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")
	threadID := f.start(t, item)

	err := f.engine.Resume(ctx, types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove,
	})
	require.NoError(t, err)

	assert.Equal(t, "work", f.mail.applied[item.ProviderMessageID])

	inst, err := f.instances.Get(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, inst.State)

	got, err := f.items.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemStatusCompleted, got.Status)

	rows, err := f.ledger.List(ctx, store.LedgerFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Approved)
	assert.Equal(t, "work", rows[0].UserSelectedCategory)

	// The proposal message was edited with the outcome.
	assert.Contains(t, f.messenger.edits["chanmsg-"+item.ID], "filed under work")
}

func TestResumeByChannelMessageID(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "bob@example.com", "minutes")
	f.start(t, item)

	err := f.engine.Resume(context.Background(), types.Decision{
		ChannelMessageID: "chanmsg-" + item.ID, UserID: "alice", Action: types.ActionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, "work", f.mail.applied[item.ProviderMessageID])
}

func TestResumeChangeCategoryAppliesUserChoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")
	f.start(t, item)

	err := f.engine.Resume(ctx, types.Decision{
		WorkItemID: item.ID, UserID: "alice",
		Action: types.ActionChangeCategory, SelectedCategory: "finance",
	})
	require.NoError(t, err)

	assert.Equal(t, "finance", f.mail.applied[item.ProviderMessageID])

	rows, err := f.ledger.List(ctx, store.LedgerFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Approved)
	assert.Equal(t, "work", rows[0].AISuggestedCategory)
	assert.Equal(t, "finance", rows[0].UserSelectedCategory)
}

func TestResumeRejectTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")
	threadID := f.start(t, item)

	err := f.engine.Resume(ctx, types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionReject,
	})
	require.NoError(t, err)

	assert.Zero(t, f.mail.applyCalls)

	inst, err := f.instances.Get(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, types.StateRejected, inst.State)

	rows, err := f.ledger.List(ctx, store.LedgerFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Approved)
}

func TestResumeSurvivesProcessRestart(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "bob@example.com", "minutes")
	f.start(t, item)

	// A fresh engine over the same database stands in for a restarted
	// process: everything it needs must come from checkpoints.
	restarted := f.newEngine(t)
	err := restarted.Resume(context.Background(), types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, "work", f.mail.applied[item.ProviderMessageID])
}

func TestDuplicateCallbackIsDroppedAsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")
	f.start(t, item)

	decision := types.Decision{WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove}
	require.NoError(t, f.engine.Resume(ctx, decision))

	err := f.engine.Resume(ctx, decision)
	require.Error(t, err)
	assert.True(t, types.IsStaleCallback(err))

	// Exactly one action, one ledger row.
	assert.Equal(t, 1, f.mail.applyCalls)
	rows, lerr := f.ledger.List(ctx, store.LedgerFilter{UserID: "alice"})
	require.NoError(t, lerr)
	assert.Len(t, rows, 1)
}

func TestResumeUnknownItemIsStale(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Resume(context.Background(), types.Decision{
		WorkItemID: "no-such-item", UserID: "alice", Action: types.ActionApprove,
	})
	require.Error(t, err)
	assert.True(t, types.IsStaleCallback(err))
}

func TestResumeInvalidDecisionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.Resume(ctx, types.Decision{
		WorkItemID: "x", UserID: "alice", Action: "escalate",
	})
	assert.Equal(t, types.ErrInvalidRequest, types.Kind(err))

	err = f.engine.Resume(ctx, types.Decision{
		WorkItemID: "x", UserID: "alice", Action: types.ActionChangeCategory,
	})
	assert.Equal(t, types.ErrInvalidRequest, types.Kind(err))

	err = f.engine.Resume(ctx, types.Decision{UserID: "alice", Action: types.ActionApprove})
	assert.Equal(t, types.ErrInvalidRequest, types.Kind(err))
}

func TestResumeApproveSendsReplyWhenAsked(t *testing.T) {
	f := newFixture(t)
	f.classifier.result = &llm.ClassificationResult{
		Category: "work", Confidence: 0.9, NeedsReply: true, Tone: "friendly",
	}
	item := f.createItem(t, "bob@example.com", "can you confirm?")
	f.start(t, item)

	err := f.engine.Resume(context.Background(), types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove,
	})
	require.NoError(t, err)
	require.Len(t, f.mail.replies, 1)
	assert.Equal(t, "thanks, will do", f.mail.replies[0])
}

func TestResumeRetriesTransientActionFailure(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(t, "bob@example.com", "minutes")
	f.start(t, item)

	f.mail.applyErrs = []error{
		types.NewError(types.ErrTransient, "flaky"),
		types.NewError(types.ErrTransient, "flaky"),
	}
	err := f.engine.Resume(context.Background(), types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.mail.applyCalls)
	assert.Equal(t, "work", f.mail.applied[item.ProviderMessageID])
}

func TestResumeNonRetryableActionFailureErrorsWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")
	threadID := f.start(t, item)

	f.mail.applyErrs = []error{types.NewError(types.ErrInvalidRequest, "label does not exist")}
	err := f.engine.Resume(ctx, types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove,
	})
	require.Error(t, err)

	inst, gerr := f.instances.Get(ctx, threadID)
	require.NoError(t, gerr)
	assert.Equal(t, types.StateError, inst.State)

	// The user was told in plain language via the proposal message.
	edit := f.messenger.edits["chanmsg-"+item.ID]
	assert.Contains(t, edit, "Could not process")

	// No ledger row for an action that never happened.
	rows, lerr := f.ledger.List(ctx, store.LedgerFilter{UserID: "alice"})
	require.NoError(t, lerr)
	assert.Empty(t, rows)
}

func TestCheckpointsAccumulateAcrossResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t, "bob@example.com", "minutes")
	threadID := f.start(t, item)

	require.NoError(t, f.engine.Resume(ctx, types.Decision{
		WorkItemID: item.ID, UserID: "alice", Action: types.ActionApprove,
	}))

	cps, err := store.NewCheckpointStore(f.db, zap.NewNop()).ListVersions(ctx, threadID)
	require.NoError(t, err)
	// Versions are strictly increasing and the last one is terminal.
	for i := 1; i < len(cps); i++ {
		assert.Greater(t, cps[i].Version, cps[i-1].Version)
	}
	last := cps[len(cps)-1]
	assert.Equal(t, types.StateCompleted, last.State)

	var snap Snapshot
	require.NoError(t, last.Decode(&snap))
	require.NotNil(t, snap.Decision)
	assert.Equal(t, types.ActionApprove, snap.Decision.Action)
}
