package ingest

import (
	"fmt"
	"time"

	"chatsync/pkg/feed"
	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
)

// Applier is the single writer. It drains the queue on one goroutine,
// assigns server timestamps, applies each logical op as one atomic pebble
// batch and publishes the change to the feed in commit order. Because all
// writes funnel through here, per-conversation ordering needs no locks.
type Applier struct {
	q   *Queue
	hub *feed.Hub

	// lastTS enforces non-decreasing timestamps per conversation.
	lastTS map[string]int64
	seq    uint64

	stop chan struct{}
	done chan struct{}
}

func NewApplier(q *Queue, hub *feed.Hub) *Applier {
	return &Applier{
		q:      q,
		hub:    hub,
		lastTS: make(map[string]int64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the apply loop.
func (a *Applier) Start() {
	go a.run()
}

// Stop halts the loop and waits for the in-flight op to finish.
func (a *Applier) Stop() {
	close(a.stop)
	<-a.done
}

func (a *Applier) run() {
	defer close(a.done)
	for {
		select {
		case it, ok := <-a.q.Out():
			if !ok {
				return
			}
			a.handle(it)
		case <-a.stop:
			// drain what was already accepted so callers are not left
			// waiting on results
			for {
				select {
				case it, ok := <-a.q.Out():
					if !ok {
						return
					}
					a.handle(it)
				default:
					return
				}
			}
		}
	}
}

func (a *Applier) handle(it *Item) {
	defer it.Done()
	telemetry.QueueDepth.Set(float64(a.q.Len()))
	err := a.apply(it.Op)
	if err != nil {
		logger.Warn("apply_failed", "type", string(it.Op.Type), "chat", it.Op.Chat, "error", err)
	}
	it.Op.finish(err)
}

func (a *Applier) apply(op *Op) error {
	switch op.Type {
	case OpSend:
		return a.applySend(op)
	case OpDelete:
		return a.applyDelete(op)
	case OpMarkRead:
		return a.applyMarkRead(op)
	case OpPresence:
		return a.applyPresence(op)
	case OpCreateChat:
		return a.applyCreateChat(op)
	default:
		return fmt.Errorf("unknown op type %q", op.Type)
	}
}

// stamp returns a commit timestamp that never decreases within a
// conversation, plus the insertion sequence breaking nanosecond ties.
func (a *Applier) stamp(chatID string) (int64, uint64) {
	ts := time.Now().UTC().UnixNano()
	if last := a.lastTS[chatID]; ts < last {
		ts = last
	}
	a.lastTS[chatID] = ts
	a.seq++
	return ts, a.seq
}
