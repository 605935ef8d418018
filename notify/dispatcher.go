// Package notify delivers classification proposals to users over the
// approval channel, either immediately or bundled into a scheduled batch.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/mailflow/channel"
	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/store"
	"github.com/BaSui01/mailflow/types"
)

// Dispatcher sends proposal messages. Sends to one user are paced by a
// per-user rate limiter so batches never trip the channel's quota.
type Dispatcher struct {
	cfg        config.NotifyConfig
	messenger  channel.Messenger
	instances  *store.InstanceStore
	prefs      *store.PreferenceStore
	candidates []string
	metrics    *metrics.Collector
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewDispatcher builds a dispatcher. Candidates are the user's category
// set, rendered as change-category buttons on every proposal.
func NewDispatcher(cfg config.NotifyConfig, messenger channel.Messenger, instances *store.InstanceStore, prefs *store.PreferenceStore, candidates []string, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		messenger:  messenger,
		instances:  instances,
		prefs:      prefs,
		candidates: candidates,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "dispatcher")),
		limiters:   make(map[string]*rate.Limiter),
		now:        time.Now,
	}
}

func (d *Dispatcher) limiter(userID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.cfg.DispatchInterval), 1)
		d.limiters[userID] = lim
	}
	return lim
}

// Dispatch routes one freshly suspended item. High-priority items and
// users without batching get their proposal right away; everything else
// stays pending until the user's batch time. During quiet hours an
// immediate send is deferred to the batch as well.
func (d *Dispatcher) Dispatch(ctx context.Context, threadID string, item types.WorkItem, reasoning string, immediate bool) error {
	pref, err := d.prefs.Get(ctx, item.UserID)
	if err != nil {
		return fmt.Errorf("load preference for %s: %w", item.UserID, err)
	}

	sendNow := immediate && pref.PriorityImmediate || !pref.BatchEnabled
	if sendNow && inQuietHours(pref, d.now()) {
		d.logger.Info("quiet hours, deferring to batch",
			zap.String("work_item_id", item.ID), zap.String("user_id", item.UserID))
		sendNow = false
	}
	if !sendNow {
		// The instance stays in the pending set until the batch run.
		return nil
	}

	if err := d.sendProposal(ctx, pref.Recipient, threadID, item, reasoning, immediate); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.DispatchSent("immediate")
	}
	return nil
}

// DispatchBatch sends the user's pending proposals: one summary message
// followed by one actionable proposal per item, grouped by category.
// Returns the number of proposals sent.
func (d *Dispatcher) DispatchBatch(ctx context.Context, userID string) (int, error) {
	pref, err := d.prefs.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load preference for %s: %w", userID, err)
	}
	pending, err := d.instances.ListAwaitingDispatch(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err := d.limiter(userID).Wait(ctx); err != nil {
		return 0, err
	}
	if _, err := d.messenger.SendProposal(ctx, pref.Recipient, batchSummary(pending), nil); err != nil {
		return 0, fmt.Errorf("send batch summary to %s: %w", userID, err)
	}

	sent := 0
	for _, p := range pending {
		item := types.WorkItem{
			ID:               p.ID,
			UserID:           p.UserID,
			Sender:           p.Sender,
			Subject:          p.Subject,
			BodyPreview:      p.BodyPreview,
			PriorityScore:    p.PriorityScore,
			ProposedCategory: p.ProposedCategory,
			Reasoning:        p.Reasoning,
		}
		if err := d.sendProposal(ctx, pref.Recipient, p.ThreadID, item, p.Reasoning, false); err != nil {
			// Already-sent items keep their message id; the rest stay
			// pending for the next run.
			return sent, err
		}
		sent++
		if d.metrics != nil {
			d.metrics.DispatchSent("batch")
		}
	}
	return sent, nil
}

// sendProposal sends one actionable proposal and records the channel's
// message id on the instance so the callback can find its way back.
func (d *Dispatcher) sendProposal(ctx context.Context, recipient, threadID string, item types.WorkItem, reasoning string, immediate bool) error {
	if err := d.limiter(item.UserID).Wait(ctx); err != nil {
		return err
	}
	msgID, err := d.messenger.SendProposal(ctx, recipient, ProposalText(item, reasoning, immediate), channel.StandardActions(d.candidates))
	if err != nil {
		return fmt.Errorf("send proposal for item %s: %w", item.ID, err)
	}
	if err := d.instances.SetChannelMessageID(ctx, threadID, msgID); err != nil {
		return fmt.Errorf("record channel message id for %s: %w", threadID, err)
	}
	d.logger.Info("proposal sent",
		zap.String("work_item_id", item.ID),
		zap.String("thread_id", threadID),
		zap.String("channel_message_id", msgID))
	return nil
}

// ProposalText renders one proposal message. Immediate proposals carry a
// leading priority marker so they stand out from batched ones.
func ProposalText(item types.WorkItem, reasoning string, immediate bool) string {
	var b strings.Builder
	if immediate {
		b.WriteString("[high priority]\n")
	}
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n", item.Sender, item.Subject)
	fmt.Fprintf(&b, "Proposed category: %s (priority %d)\n", item.ProposedCategory, item.PriorityScore)
	if reasoning != "" {
		fmt.Fprintf(&b, "Why: %s\n", reasoning)
	}
	return b.String()
}

// batchSummary renders the header message with per-category counts.
func batchSummary(pending []store.PendingProposal) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, p := range pending {
		if _, seen := counts[p.ProposedCategory]; !seen {
			order = append(order, p.ProposedCategory)
		}
		counts[p.ProposedCategory]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d emails awaiting your review:\n", len(pending))
	for _, cat := range order {
		fmt.Fprintf(&b, "- %s: %d\n", cat, counts[cat])
	}
	return b.String()
}

// inQuietHours reports whether now falls inside the user's quiet window.
// Windows may wrap midnight, e.g. 22:00 to 06:00.
func inQuietHours(pref *types.NotificationPreference, now time.Time) bool {
	if pref.QuietHoursStart == "" || pref.QuietHoursEnd == "" {
		return false
	}
	start, err1 := parseClock(pref.QuietHoursStart)
	end, err2 := parseClock(pref.QuietHoursEnd)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
