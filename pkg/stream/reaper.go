package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"threadloom/pkg/chat"
	"threadloom/pkg/logger"
	"threadloom/pkg/metrics"
	"threadloom/pkg/store"
)

// DefaultMaxLiveAge bounds how long a thread may stay live before the
// reaper treats its generation as abandoned. A reload that resumes a
// genuinely running stream reattaches well inside this window.
const DefaultMaxLiveAge = 10 * time.Minute

// StartReaper schedules a periodic sweep that forces threads stuck in the
// live state back to idle, so a later resume attempt does not wait forever
// on a stream that will never complete. Returns a cancel func.
func StartReaper(ctx context.Context, cronExpr string, maxLiveAge time.Duration) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("reaper_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid reaper cron expression: %s", cronExpr)
	}
	if maxLiveAge <= 0 {
		maxLiveAge = DefaultMaxLiveAge
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, maxLiveAge)
	logger.Info("reaper_started", "cron", cronExpr, "max_live_age", maxLiveAge.String())
	return cancel, nil
}

// runScheduler computes the next cron tick and sleeps until it. gronx gives
// sharper scheduling than a coarse ticker and supports full cron syntax.
func runScheduler(ctx context.Context, cronExpr string, maxLiveAge time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("reaper_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("reaper_next_tick_failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			logger.Info("reaper_stopping")
			return
		case <-time.After(next.Sub(now)):
		}

		if n, err := Sweep(time.Now().UTC(), maxLiveAge); err != nil {
			logger.Error("reaper_sweep_failed", "error", err)
		} else if n > 0 {
			logger.Info("reaper_sweep_done", "reaped", n)
		}
	}
}

// Sweep forces every thread whose live stream started more than maxLiveAge
// ago back to idle and reports how many it reaped.
func Sweep(now time.Time, maxLiveAge time.Duration) (int, error) {
	threads, err := store.ListThreads()
	if err != nil {
		return 0, err
	}
	reaped := 0
	cutoff := now.Add(-maxLiveAge).UnixNano()
	for _, th := range threads {
		if !th.Streaming() || th.StreamStartedTS > cutoff {
			continue
		}
		if _, err := chat.UpdateStreamingState(th.ID, false, 0, ""); err != nil {
			logger.Error("reap_thread_failed", "thread", th.ID, "error", err)
			continue
		}
		metrics.StreamsReaped.Inc()
		logger.Warn("stale_stream_reaped", "thread", th.ID,
			"stream", th.CurrentStreamID, "started_ts", th.StreamStartedTS)
		reaped++
	}
	return reaped, nil
}
