package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/mailflow/history"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

type fakeResumer struct {
	got *types.Decision
	err error
}

func (f *fakeResumer) Resume(_ context.Context, d types.Decision) error {
	f.got = &d
	return f.err
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

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCallbackAppliesDecision(t *testing.T) {
	resumer := &fakeResumer{}
	h := NewCallbackHandler(resumer, zap.NewNop())

	body := `{"work_item_id":"item-1","user_id":"alice","action_type":"approve"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks/decision", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resumer.got)
	assert.Equal(t, "item-1", resumer.got.WorkItemID)
	assert.Equal(t, types.ActionApprove, resumer.got.Action)
	assert.True(t, decodeEnvelope(t, rec).Success)
}

func TestCallbackStaleIsAcknowledged(t *testing.T) {
	resumer := &fakeResumer{err: types.NewError(types.ErrStaleCallback, "already terminal")}
	h := NewCallbackHandler(resumer, zap.NewNop())

	body := `{"work_item_id":"item-1","user_id":"alice","action_type":"approve"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks/decision", strings.NewReader(body)))

	// 200 so the channel stops redelivering.
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
}

func TestCallbackInvalidDecisionIs400(t *testing.T) {
	resumer := &fakeResumer{err: types.NewError(types.ErrInvalidRequest, "unknown action")}
	h := NewCallbackHandler(resumer, zap.NewNop())

	body := `{"work_item_id":"item-1","user_id":"alice","action_type":"escalate"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks/decision", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestCallbackMalformedBodyIs400(t *testing.T) {
	h := NewCallbackHandler(&fakeResumer{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/callbacks/decision", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackRejectsGet(t *testing.T) {
	h := NewCallbackHandler(&fakeResumer{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/callbacks/decision", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seededLedger(t *testing.T, db *gorm.DB) *history.Service {
	t.Helper()
	svc := history.NewService(store.NewDecisionStore(db, zap.NewNop()), nil, zap.NewNop())
	ctx := context.Background()

	seed := []struct {
		itemID string
		action types.ActionType
		final  string
	}{
		{"i1", types.ActionApprove, "work"},
		{"i2", types.ActionChangeCategory, "finance"},
		{"i3", types.ActionReject, ""},
	}
	for _, s := range seed {
		item := &types.WorkItem{ID: s.itemID, UserID: "alice", ProposedCategory: "work"}
		d := types.Decision{UserID: "alice", WorkItemID: s.itemID, Action: s.action, SelectedCategory: s.final}
		require.NoError(t, svc.RecordDecision(ctx, item, d, s.final))
	}
	return svc
}

func TestHistoryEndpoint(t *testing.T) {
	h := NewHistoryHandler(seededLedger(t, testDB(t)), zap.NewNop())

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history?user_id=alice", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	rows, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 3)
}

func TestHistoryActionFilter(t *testing.T) {
	h := NewHistoryHandler(seededLedger(t, testDB(t)), zap.NewNop())

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history?user_id=alice&action=reject", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeEnvelope(t, rec).Data.([]interface{})
	assert.Len(t, rows, 1)
}

func TestHistoryRequiresUserID(t *testing.T) {
	h := NewHistoryHandler(seededLedger(t, testDB(t)), zap.NewNop())

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRejectsBadTimestamps(t *testing.T) {
	h := NewHistoryHandler(seededLedger(t, testDB(t)), zap.NewNop())

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history?user_id=alice&from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsEndpoint(t *testing.T) {
	h := NewHistoryHandler(seededLedger(t, testDB(t)), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Statistics(rec, httptest.NewRequest(http.MethodGet, "/v1/statistics?user_id=alice", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := decodeEnvelope(t, rec).Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, data["total_decisions"])
	assert.InDelta(t, 2.0/3.0, data["approval_rate"].(float64), 1e-9)
}

func TestStatisticsWindowFilter(t *testing.T) {
	h := NewHistoryHandler(seededLedger(t, testDB(t)), zap.NewNop())

	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	rec := httptest.NewRecorder()
	h.Statistics(rec, httptest.NewRequest(http.MethodGet, "/v1/statistics?user_id=alice&from="+future, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]interface{})
	assert.EqualValues(t, 0, data["total_decisions"])
}

func TestHealthEndpoints(t *testing.T) {
	h := NewHealthHandler(testDB(t), "test", zap.NewNop())

	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeStarter struct {
	threadID string
	err      error
	got      *types.WorkItem
}

func (f *fakeStarter) Start(_ context.Context, item *types.WorkItem) (string, error) {
	f.got = item
	return f.threadID, f.err
}

func TestItemsIntakeStartsWorkflow(t *testing.T) {
	db := testDB(t)
	starter := &fakeStarter{threadID: "wf-1"}
	h := NewItemsHandler(store.NewItemStore(db, zap.NewNop()), starter, zap.NewNop())

	body := `{"user_id":"alice","provider_message_id":"pm-1","mail_thread_id":"mt-1","sender":"bob@example.com","subject":"hi"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "accepted", data["status"])
	assert.Equal(t, "wf-1", data["thread_id"])
	require.NotNil(t, starter.got)
	assert.Equal(t, "pm-1", starter.got.ProviderMessageID)
}

func TestItemsIntakeDeduplicates(t *testing.T) {
	db := testDB(t)
	starter := &fakeStarter{threadID: "wf-1"}
	h := NewItemsHandler(store.NewItemStore(db, zap.NewNop()), starter, zap.NewNop())

	body := `{"user_id":"alice","provider_message_id":"pm-1","sender":"bob@example.com"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "duplicate", data["status"])
}

func TestItemsIntakeValidates(t *testing.T) {
	db := testDB(t)
	h := NewItemsHandler(store.NewItemStore(db, zap.NewNop()), &fakeStarter{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader(`{"user_id":"alice"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMuxRoutes(t *testing.T) {
	db := testDB(t)
	mux := NewMux(
		NewItemsHandler(store.NewItemStore(db, zap.NewNop()), &fakeStarter{}, zap.NewNop()),
		NewCallbackHandler(&fakeResumer{}, zap.NewNop()),
		NewHistoryHandler(seededLedger(t, db), zap.NewNop()),
		NewHealthHandler(db, "test", zap.NewNop()),
	)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/statistics?user_id=alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
