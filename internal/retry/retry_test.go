package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

func newTestRunner(t *testing.T, delays *[]time.Duration, opts ...Option) *Runner {
	t.Helper()
	all := append([]Option{
		WithSleep(func(ctx context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		}),
	}, opts...)
	return NewRunner(DefaultPolicy(), zap.NewNop(), all...)
}

func TestTransientBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	r := newTestRunner(t, &delays)

	calls := 0
	err := r.Do(context.Background(), "llm.classify", func(ctx context.Context) error {
		calls++
		return types.NewError(types.ErrTransient, "upstream timeout")
	})

	require.Error(t, err)
	assert.Equal(t, types.ErrTransient, types.Kind(err))
	assert.Equal(t, 4, calls) // initial attempt + 3 retries
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestTransientRecovery(t *testing.T) {
	var delays []time.Duration
	r := newTestRunner(t, &delays)

	calls := 0
	err := r.Do(context.Background(), "mail.apply", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrTransient, "503")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestInvalidRequestNotRetried(t *testing.T) {
	var delays []time.Duration
	r := newTestRunner(t, &delays)

	calls := 0
	err := r.Do(context.Background(), "mail.apply", func(ctx context.Context) error {
		calls++
		return types.NewError(types.ErrInvalidRequest, "unknown label")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestUnclassifiedErrorTreatedAsPermanent(t *testing.T) {
	var delays []time.Duration
	r := newTestRunner(t, &delays)

	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("bare error")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestAuthExpiredRefreshThenRetryOnce(t *testing.T) {
	var delays []time.Duration
	refreshes := 0
	r := newTestRunner(t, &delays, WithRefresh(func(ctx context.Context) error {
		refreshes++
		return nil
	}))

	calls := 0
	err := r.Do(context.Background(), "channel.send", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return types.NewError(types.ErrAuthExpired, "token expired")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, calls)
	assert.Empty(t, delays)
}

func TestAuthExpiredTwiceGivesUp(t *testing.T) {
	var delays []time.Duration
	refreshes := 0
	r := newTestRunner(t, &delays, WithRefresh(func(ctx context.Context) error {
		refreshes++
		return nil
	}))

	calls := 0
	err := r.Do(context.Background(), "channel.send", func(ctx context.Context) error {
		calls++
		return types.NewError(types.ErrAuthExpired, "token expired")
	})

	require.Error(t, err)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, calls)
}

func TestAuthExpiredWithoutRefresher(t *testing.T) {
	var delays []time.Duration
	r := newTestRunner(t, &delays)

	calls := 0
	err := r.Do(context.Background(), "channel.send", func(ctx context.Context) error {
		calls++
		return types.NewError(types.ErrAuthExpired, "token expired")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestQuotaExceededSurfacedImmediately(t *testing.T) {
	var delays []time.Duration
	r := newTestRunner(t, &delays)

	quota := types.NewError(types.ErrQuotaExceeded, "daily limit").WithRetryAfter(time.Minute)
	calls := 0
	err := r.Do(context.Background(), "llm.classify", func(ctx context.Context) error {
		calls++
		return quota
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ErrQuotaExceeded, types.Kind(err))
}

func TestContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(DefaultPolicy(), zap.NewNop(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	err := r.Do(ctx, "op", func(ctx context.Context) error {
		return types.NewError(types.ErrTransient, "timeout")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
