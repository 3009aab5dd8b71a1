package stream

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"threadloom/pkg/models"
	"threadloom/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func TestSweepReapsOnlyStaleLiveThreads(t *testing.T) {
	openTestStore(t)

	now := time.Now().UTC()
	stale := now.Add(-30 * time.Minute).UnixNano()
	fresh := now.Add(-1 * time.Minute).UnixNano()

	for _, th := range []models.Thread{
		{ID: "th_stale", Author: "alice", IsLive: true, StreamStartedTS: stale, CurrentStreamID: "st_old"},
		{ID: "th_fresh", Author: "alice", IsLive: true, StreamStartedTS: fresh, CurrentStreamID: "st_new"},
		{ID: "th_idle", Author: "alice"},
	} {
		if err := store.PutThread(th); err != nil {
			t.Fatalf("PutThread: %v", err)
		}
	}

	n, err := Sweep(now, DefaultMaxLiveAge)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped thread, got %d", n)
	}

	reaped, _ := store.GetThread("th_stale")
	if reaped.IsLive || reaped.CurrentStreamID != "" || reaped.StreamStartedTS != 0 {
		t.Fatalf("stale thread not forced idle: %+v", reaped)
	}
	kept, _ := store.GetThread("th_fresh")
	if !kept.IsLive || kept.CurrentStreamID != "st_new" {
		t.Fatalf("fresh live thread must survive the sweep: %+v", kept)
	}
}

func TestStartReaperRejectsInvalidCron(t *testing.T) {
	if _, err := StartReaper(context.Background(), "not a cron", time.Minute); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}
