// Package presence owns the online/typing/current-chat signals. Writes go
// through the ingest queue like every other mutation; the tracker's only
// local state is the per-user self-clear timer for typing.
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"chatsync/pkg/ingest"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

type Tracker struct {
	q *ingest.Queue
	// clearAfter is the delay after the last keystroke before the tracker
	// emits the clearing write itself.
	clearAfter time.Duration
	// staleAfter is the read-side expiry: snapshots with older typing
	// flags are scrubbed before delivery. Closes the stuck-indicator gap
	// when the clearing write is lost (client crash).
	staleAfter time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewTracker(q *ingest.Queue, clearAfter, staleAfter time.Duration) *Tracker {
	return &Tracker{
		q:          q,
		clearAfter: clearAfter,
		staleAfter: staleAfter,
		timers:     make(map[string]*time.Timer),
	}
}

// StaleAfter returns the read-side typing expiry.
func (t *Tracker) StaleAfter() time.Duration { return t.staleAfter }

// enqueue submits a patch without blocking; presence signals are
// fire-and-forget and a full queue drops them.
func (t *Tracker) enqueue(patch *models.PresencePatch) {
	b, err := json.Marshal(patch)
	if err != nil {
		return
	}
	if err := t.q.TryEnqueue(&ingest.Op{Type: ingest.OpPresence, User: patch.User, Payload: b}); err != nil {
		telemetry.SignalsDropped.Inc()
		logger.Warn("presence_signal_dropped", "user", patch.User, "error", err)
	}
}

// SetOnline toggles connectivity. Going offline also clears any typing
// flag; the applier stamps last_seen on the transition.
func (t *Tracker) SetOnline(userID string, online bool) {
	patch := &models.PresencePatch{User: userID, Online: &online}
	if !online {
		empty := ""
		patch.TypingIn = &empty
		t.stopTimer(userID)
	}
	t.enqueue(patch)
}

// Heartbeat refreshes the freshness stamp without changing state.
func (t *Tracker) Heartbeat(userID string) {
	t.enqueue(&models.PresencePatch{User: userID, Heartbeat: true})
}

// SetTyping records what conversation the user is typing in; empty clears.
// Every non-empty set (one per keystroke, debounced by the caller) re-arms
// a timer that emits the clearing write after the configured delay, so a
// silent keyboard self-clears without server cooperation.
func (t *Tracker) SetTyping(userID, chatID string) {
	t.enqueue(&models.PresencePatch{User: userID, TypingIn: &chatID})
	if chatID == "" {
		t.stopTimer(userID)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if tm, ok := t.timers[userID]; ok {
		tm.Reset(t.clearAfter)
		return
	}
	t.timers[userID] = time.AfterFunc(t.clearAfter, func() {
		t.stopTimer(userID)
		empty := ""
		t.enqueue(&models.PresencePatch{User: userID, TypingIn: &empty})
	})
}

// SetCurrentChat records the conversation the user is actively viewing;
// empty on view teardown. The reconciler consults this to decide whether a
// new arrival is auto-read.
func (t *Tracker) SetCurrentChat(userID, chatID string) {
	t.enqueue(&models.PresencePatch{User: userID, CurrentChat: &chatID})
}

func (t *Tracker) stopTimer(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[userID]; ok {
		tm.Stop()
		delete(t.timers, userID)
	}
}

// Close stops all pending self-clear timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for uid, tm := range t.timers {
		tm.Stop()
		delete(t.timers, uid)
	}
}

// Scrub returns a copy of p with an unrefreshed typing flag cleared. The
// flag is a lease, not a fact: past staleAfter it is not trusted.
func Scrub(p models.Presence, staleAfter time.Duration, now time.Time) models.Presence {
	if p.TypingIn != "" && now.UnixNano()-p.UpdatedTS > staleAfter.Nanoseconds() {
		p.TypingIn = ""
	}
	return p
}
