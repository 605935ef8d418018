package history

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

func testService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))
	return NewService(store.NewDecisionStore(db, zap.NewNop()), nil, zap.NewNop())
}

func record(t *testing.T, s *Service, itemID string, action types.ActionType, suggested, final string) {
	t.Helper()
	item := &types.WorkItem{ID: itemID, UserID: "alice", ProposedCategory: suggested}
	decision := types.Decision{UserID: "alice", Action: action, WorkItemID: itemID}
	require.NoError(t, s.RecordDecision(context.Background(), item, decision, final))
}

func TestRecordDecisionIsIdempotent(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	record(t, s, "item-1", types.ActionApprove, "work", "work")
	record(t, s, "item-1", types.ActionApprove, "work", "work")

	rows, err := s.List(ctx, store.LedgerFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStatisticsRates(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	record(t, s, "i1", types.ActionApprove, "work", "work")
	record(t, s, "i2", types.ActionApprove, "work", "work")
	record(t, s, "i3", types.ActionChangeCategory, "work", "finance")
	record(t, s, "i4", types.ActionReject, "newsletters", "")

	stats, err := s.Statistics(ctx, "alice", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.FolderChanged)
	assert.InDelta(t, 0.75, stats.ApprovalRate, 1e-9)
	assert.GreaterOrEqual(t, stats.ApprovalRate, 0.0)
	assert.LessOrEqual(t, stats.ApprovalRate, 1.0)
}

func TestStatisticsEmptyLedger(t *testing.T) {
	s := testService(t)

	stats, err := s.Statistics(context.Background(), "alice", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.ApprovalRate)
}

func TestStatisticsTopCategories(t *testing.T) {
	s := testService(t)

	record(t, s, "i1", types.ActionApprove, "work", "work")
	record(t, s, "i2", types.ActionApprove, "work", "work")
	record(t, s, "i3", types.ActionChangeCategory, "newsletters", "finance")

	stats, err := s.Statistics(context.Background(), "alice", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, stats.TopCategories)
	assert.Equal(t, "work", stats.TopCategories[0].Category)
	assert.Equal(t, 2, stats.TopCategories[0].Count)
}

func TestListFiltersByAction(t *testing.T) {
	s := testService(t)

	record(t, s, "i1", types.ActionApprove, "work", "work")
	record(t, s, "i2", types.ActionReject, "work", "")

	rows, err := s.List(context.Background(), store.LedgerFilter{
		UserID: "alice", Action: types.ActionReject,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "i2", rows[0].WorkItemID)
}
