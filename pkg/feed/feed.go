// Package feed is the change-notification hub between the applier and
// client sync layers. Every committed write publishes an event on one or
// more topics; subscribers hold a cancellable handle and reconcile by
// re-reading full state, never by applying diffs. Dropped intermediate
// events are therefore harmless: the next delivery carries everything.
package feed

import (
	"sync"
	"sync/atomic"

	"chatsync/pkg/telemetry"
)

// Kind labels what changed behind a topic.
type Kind string

const (
	KindMessages Kind = "messages" // the conversation's message window changed
	KindRegistry Kind = "registry" // one of the user's conversations changed
	KindPresence Kind = "presence" // a presence record changed
)

// Event announces a state change. Payload, when set, carries a snapshot the
// subscriber may use directly; subscribers that need a bounded window
// re-read it from the store instead.
type Event struct {
	Topic   string
	Kind    Kind
	Payload any
	// Commit is the hub-wide commit counter; within a topic events are
	// delivered in commit order.
	Commit uint64
}

// Topic name helpers.
func ChatTopic(chatID string) string     { return "chat:" + chatID }
func RegistryTopic(userID string) string { return "registry:" + userID }
func PresenceTopic(userID string) string { return "presence:" + userID }

// subBuffer is per-subscriber; full-state semantics permit keeping it small
// and coalescing under lag.
const subBuffer = 16

// Subscription is a single-use handle on one topic. Cancel stops delivery
// immediately and releases the slot; it is safe to call more than once.
type Subscription struct {
	topic string
	ch    chan Event
	hub   *Hub
	once  sync.Once

	mu     sync.Mutex
	closed bool
}

// C returns the event channel. It is closed after Cancel.
func (s *Subscription) C() <-chan Event { return s.ch }

// Cancel detaches the subscription from the hub.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		telemetry.ActiveSubscriptions.Dec()
	})
}

// deliver pushes ev unless the subscription was cancelled, displacing the
// oldest pending event when the buffer is full.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		select {
		case <-s.ch:
			telemetry.FanoutCoalesced.Inc()
		default:
		}
		s.ch <- ev
	}
	telemetry.FanoutEvents.Inc()
}

// Hub fans committed changes out to topic subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	commit uint64
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches a new subscription to topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	s := &Subscription{topic: topic, ch: make(chan Event, subBuffer), hub: h}
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][s] = struct{}{}
	h.mu.Unlock()
	telemetry.ActiveSubscriptions.Inc()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.topics[s.topic]; m != nil {
		delete(m, s)
		if len(m) == 0 {
			delete(h.topics, s.topic)
		}
	}
}

// Publish delivers an event to every subscriber of topic. A subscriber
// whose buffer is full has its oldest pending event displaced so the
// freshest state always gets through.
func (h *Hub) Publish(topic string, kind Kind, payload any) {
	ev := Event{Topic: topic, Kind: kind, Payload: payload, Commit: atomic.AddUint64(&h.commit, 1)}
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.deliver(ev)
	}
}

// Subscribers returns the current subscriber count for topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
