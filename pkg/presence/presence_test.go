package presence

import (
	"encoding/json"
	"testing"
	"time"

	"chatsync/pkg/ingest"
	"chatsync/pkg/models"
)

func drainPatch(t *testing.T, q *ingest.Queue, timeout time.Duration) *models.PresencePatch {
	t.Helper()
	select {
	case it := <-q.Out():
		defer it.Done()
		var patch models.PresencePatch
		if err := json.Unmarshal(it.Op.Payload, &patch); err != nil {
			t.Fatalf("bad patch payload: %v", err)
		}
		return &patch
	case <-time.After(timeout):
		return nil
	}
}

func TestSetTypingEnqueuesPatch(t *testing.T) {
	q := ingest.NewQueue(8)
	tr := NewTracker(q, time.Minute, time.Minute)
	defer tr.Close()

	tr.SetTyping("u1", "c1")

	patch := drainPatch(t, q, 200*time.Millisecond)
	if patch == nil || patch.User != "u1" || patch.TypingIn == nil || *patch.TypingIn != "c1" {
		t.Fatalf("unexpected patch: %+v", patch)
	}
}

func TestTypingSelfClears(t *testing.T) {
	q := ingest.NewQueue(8)
	tr := NewTracker(q, 30*time.Millisecond, time.Minute)
	defer tr.Close()

	tr.SetTyping("u1", "c1")

	if patch := drainPatch(t, q, 200*time.Millisecond); patch == nil || *patch.TypingIn != "c1" {
		t.Fatalf("expected typing set first: %+v", patch)
	}
	// with no further keystrokes the tracker emits the clearing write itself
	patch := drainPatch(t, q, time.Second)
	if patch == nil || patch.TypingIn == nil || *patch.TypingIn != "" {
		t.Fatalf("expected self-clear patch, got %+v", patch)
	}
}

func TestKeystrokesKeepTypingAlive(t *testing.T) {
	q := ingest.NewQueue(64)
	tr := NewTracker(q, 80*time.Millisecond, time.Minute)
	defer tr.Close()

	// keep typing faster than the clear delay
	for i := 0; i < 4; i++ {
		tr.SetTyping("u1", "c1")
		time.Sleep(20 * time.Millisecond)
	}

	// drain the four set patches; no clear patch may appear yet
	for i := 0; i < 4; i++ {
		patch := drainPatch(t, q, 200*time.Millisecond)
		if patch == nil || *patch.TypingIn != "c1" {
			t.Fatalf("patch %d: expected typing set, got %+v", i, patch)
		}
	}
	// then silence produces exactly one clear
	patch := drainPatch(t, q, time.Second)
	if patch == nil || *patch.TypingIn != "" {
		t.Fatalf("expected clear after silence, got %+v", patch)
	}
}

func TestExplicitClearStopsTimer(t *testing.T) {
	q := ingest.NewQueue(8)
	tr := NewTracker(q, 30*time.Millisecond, time.Minute)
	defer tr.Close()

	tr.SetTyping("u1", "c1")
	tr.SetTyping("u1", "")

	_ = drainPatch(t, q, 200*time.Millisecond) // set
	if patch := drainPatch(t, q, 200*time.Millisecond); patch == nil || *patch.TypingIn != "" {
		t.Fatalf("expected explicit clear, got %+v", patch)
	}
	// timer was stopped; no third patch
	if patch := drainPatch(t, q, 100*time.Millisecond); patch != nil {
		t.Fatalf("timer should be stopped, got %+v", patch)
	}
}

func TestSetOnlineFalseClearsTyping(t *testing.T) {
	q := ingest.NewQueue(8)
	tr := NewTracker(q, time.Minute, time.Minute)
	defer tr.Close()

	tr.SetOnline("u1", false)

	patch := drainPatch(t, q, 200*time.Millisecond)
	if patch == nil || patch.Online == nil || *patch.Online {
		t.Fatalf("expected offline patch, got %+v", patch)
	}
	if patch.TypingIn == nil || *patch.TypingIn != "" {
		t.Fatalf("going offline must clear typing, got %+v", patch)
	}
}

func TestSignalDroppedOnFullQueue(t *testing.T) {
	q := ingest.NewQueue(1)
	tr := NewTracker(q, time.Minute, time.Minute)
	defer tr.Close()

	tr.Heartbeat("u1")
	tr.Heartbeat("u1") // queue full; dropped, not blocked

	if q.Dropped() == 0 {
		t.Fatalf("expected dropped signal")
	}
}

func TestScrubExpiresStaleTyping(t *testing.T) {
	now := time.Now()
	stale := 6 * time.Second

	fresh := models.Presence{User: "u1", TypingIn: "c1", UpdatedTS: now.Add(-time.Second).UnixNano()}
	if got := Scrub(fresh, stale, now); got.TypingIn != "c1" {
		t.Fatalf("fresh flag scrubbed: %+v", got)
	}

	old := models.Presence{User: "u1", TypingIn: "c1", UpdatedTS: now.Add(-10 * time.Second).UnixNano()}
	if got := Scrub(old, stale, now); got.TypingIn != "" {
		t.Fatalf("stale flag survived: %+v", got)
	}
	// input untouched
	if old.TypingIn != "c1" {
		t.Fatalf("scrub must copy, not mutate")
	}
}
