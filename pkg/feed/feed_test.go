package feed

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(ChatTopic("c1"))
	defer sub.Cancel()

	h.Publish(ChatTopic("c1"), KindMessages, nil)

	select {
	case ev := <-sub.C():
		if ev.Kind != KindMessages || ev.Topic != ChatTopic("c1") {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(ChatTopic("c1"))
	defer sub.Cancel()

	h.Publish(ChatTopic("c2"), KindMessages, nil)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected cross-topic delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(ChatTopic("c1"))
	sub.Cancel()
	sub.Cancel() // safe to repeat

	if n := h.Subscribers(ChatTopic("c1")); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
	// publish after cancel must not panic
	h.Publish(ChatTopic("c1"), KindMessages, nil)

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestSlowSubscriberCoalesces(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(ChatTopic("c1"))
	defer sub.Cancel()

	// overflow the buffer without reading
	for i := 0; i < subBuffer+8; i++ {
		h.Publish(ChatTopic("c1"), KindMessages, nil)
	}

	var last Event
	drained := 0
	for {
		select {
		case ev := <-sub.C():
			last = ev
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 || drained > subBuffer {
		t.Fatalf("expected at most %d buffered events, drained %d", subBuffer, drained)
	}
	// the freshest event always survives displacement
	if last.Commit != uint64(subBuffer+8) {
		t.Fatalf("expected final commit %d, got %d", subBuffer+8, last.Commit)
	}
}

func TestCommitOrderWithinTopic(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(RegistryTopic("u1"))
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		h.Publish(RegistryTopic("u1"), KindRegistry, nil)
	}
	var prev uint64
	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.C():
			if ev.Commit <= prev {
				t.Fatalf("commit order violated: %d after %d", ev.Commit, prev)
			}
			prev = ev.Commit
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("timed out at event %d", i)
		}
	}
}
