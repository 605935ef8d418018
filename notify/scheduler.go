package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mailflow/store"
)

// Scheduler fires each user's daily batch at their configured time. The
// tick interval bounds delivery lateness; one dispatch per user per day.
type Scheduler struct {
	tick       time.Duration
	dispatcher *Dispatcher
	prefs      *store.PreferenceStore
	logger     *zap.Logger

	mu      sync.Mutex
	lastRun map[string]string // userID -> date of last dispatch, "2006-01-02"
	now     func() time.Time
}

// NewScheduler builds a scheduler over the dispatcher.
func NewScheduler(tick time.Duration, dispatcher *Dispatcher, prefs *store.PreferenceStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tick:       tick,
		dispatcher: dispatcher,
		prefs:      prefs,
		logger:     logger.With(zap.String("component", "batch_scheduler")),
		lastRun:    make(map[string]string),
		now:        time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("batch tick failed", zap.Error(err))
			}
		}
	}
}

// RunOnce dispatches every due batch. Users are processed concurrently;
// one user's failure does not block the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	users, err := s.prefs.ListBatchUsers(ctx)
	if err != nil {
		return err
	}
	now := s.now()

	g, gctx := errgroup.WithContext(ctx)
	for _, pref := range users {
		if !s.due(pref.UserID, pref.BatchTime, now) {
			continue
		}
		pref := pref
		g.Go(func() error {
			sent, err := s.dispatcher.DispatchBatch(gctx, pref.UserID)
			if err != nil {
				s.logger.Error("batch dispatch failed",
					zap.String("user_id", pref.UserID), zap.Error(err))
				return nil // keep other users going; retried next day
			}
			if sent > 0 {
				s.logger.Info("batch dispatched",
					zap.String("user_id", pref.UserID), zap.Int("proposals", sent))
			}
			return nil
		})
	}
	return g.Wait()
}

// due reports whether the user's batch time has passed today and no
// batch has been dispatched yet today.
func (s *Scheduler) due(userID, batchTime string, now time.Time) bool {
	at, err := parseClock(batchTime)
	if err != nil {
		return false
	}
	if now.Hour()*60+now.Minute() < at {
		return false
	}

	today := now.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[userID] == today {
		return false
	}
	s.lastRun[userID] = today
	return true
}
