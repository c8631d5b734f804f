// Package sweep runs the presence janitor: a cron-scheduled pass that
// clears typing flags whose owner stopped reporting and marks silent
// users offline. It backstops the tracker's self-clear timers so a crash
// between signal and timer never leaves a stuck indicator.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
	"chatsync/pkg/presence"
	"chatsync/pkg/store"
)

type Sweeper struct {
	tracker      *presence.Tracker
	cronExpr     string
	staleAfter   time.Duration
	offlineAfter time.Duration
}

func New(tracker *presence.Tracker, cronExpr string, staleAfter, offlineAfter time.Duration) *Sweeper {
	return &Sweeper{tracker: tracker, cronExpr: cronExpr, staleAfter: staleAfter, offlineAfter: offlineAfter}
}

// Start validates the schedule and launches the scheduler goroutine.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	cronExpr := s.cronExpr
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", s.cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", s.cronExpr)
	}
	logger.Info("sweep_enabled", "cron", cronExpr, "stale_after", s.staleAfter, "offline_after", s.offlineAfter)
	ctx2, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runScheduler(ctx2, cronExpr)
	}()
	// the returned cancel waits out an in-flight pass so the tracker and
	// queue behind it are still open while it runs
	return func() {
		cancel()
		<-done
	}, nil
}

// runScheduler computes the next tick with gronx and sleeps until then.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("sweep_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := s.RunOnce(); err != nil {
				logger.Error("sweep_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		}
	}
}

// RunOnce scans every presence record and repairs stale state through the
// tracker, so repairs take the same ordered path as live signals.
func (s *Sweeper) RunOnce() error {
	records, err := store.ListPresence()
	if err != nil {
		return err
	}
	now := time.Now()
	cleared, offlined := 0, 0
	for _, p := range records {
		if p.TypingIn != "" && now.UnixNano()-p.UpdatedTS > s.staleAfter.Nanoseconds() {
			s.tracker.SetTyping(p.User, "")
			cleared++
		}
		if p.Online && now.UnixNano()-p.UpdatedTS > s.offlineAfter.Nanoseconds() {
			s.tracker.SetOnline(p.User, false)
			offlined++
		}
	}
	if cleared > 0 || offlined > 0 {
		logger.Info("sweep_complete", "scanned", len(records), "typing_cleared", cleared, "marked_offline", offlined)
	}
	return nil
}
