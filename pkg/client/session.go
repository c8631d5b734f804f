// Package client is the per-user sync layer: it subscribes to the
// conversation registry and to open views, and maintains derived state
// (ordered render lists, the total unread badge) on a single cooperative
// event loop. Nothing here takes a lock; every mutation of derived state is
// a closure posted onto the session's loop.
package client

import (
	"context"

	"chatsync/pkg/chat"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

type Session struct {
	svc         *chat.Service
	user        string
	displayName string
	photo       string

	ctx    context.Context
	cancel context.CancelFunc
	loop   chan func()
	done   chan struct{}

	// Derived state, mutated only on the loop goroutine.
	unread       map[string]int
	lastActivity map[string]int64
	current      string

	regCancel func()
}

// NewSession opens a sync session for an authenticated user: marks the user
// online and starts tracking the conversation registry. The unread badge
// starts empty and fills as registry events arrive.
func NewSession(svc *chat.Service, userID, displayName, photo string) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		svc:          svc,
		user:         userID,
		displayName:  displayName,
		photo:        photo,
		ctx:          ctx,
		cancel:       cancel,
		loop:         make(chan func(), 64),
		done:         make(chan struct{}),
		unread:       make(map[string]int),
		lastActivity: make(map[string]int64),
	}
	go s.run()

	regCancel, err := svc.SubscribeRegistry(ctx, userID, func(c *models.Conversation) {
		s.post(func() { s.onRegistry(c) })
	})
	if err != nil {
		cancel()
		close(s.done)
		return nil, err
	}
	s.regCancel = regCancel
	svc.Tracker().SetOnline(userID, true)
	return s, nil
}

// User returns the session owner's id.
func (s *Session) User() string { return s.user }

func (s *Session) run() {
	for {
		select {
		case fn := <-s.loop:
			fn()
		case <-s.done:
			// run whatever was accepted before close so no poster is
			// left waiting on a reply
			for {
				select {
				case fn := <-s.loop:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post schedules fn on the loop; returns false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.loop <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) onRegistry(c *models.Conversation) {
	s.unread[c.ID] = c.Unread(s.user)

	// New activity in the currently open conversation is read immediately;
	// the counter check avoids a redundant round trip when the applier
	// already auto-read it via current-chat presence.
	if lm := c.LastMessage; lm != nil && lm.TS > s.lastActivity[c.ID] {
		s.lastActivity[c.ID] = lm.TS
		if c.ID == s.current && lm.Sender != s.user && c.Unread(s.user) > 0 {
			go func(chatID string) {
				if err := s.svc.MarkChatAsRead(s.ctx, chatID, s.user); err != nil {
					logger.Warn("auto_mark_read_failed", "chat", chatID, "user", s.user, "error", err)
				}
			}(c.ID)
		}
	}
}

// TotalUnread returns the live badge value: the sum of per-conversation
// unread counters for this user. Zero after the session is closed.
func (s *Session) TotalUnread() int {
	res := make(chan int, 1)
	ok := s.post(func() {
		total := 0
		for _, n := range s.unread {
			total += n
		}
		res <- total
	})
	if !ok {
		return 0
	}
	return <-res
}

// UnreadCounts returns a copy of the per-conversation counters.
func (s *Session) UnreadCounts() map[string]int {
	res := make(chan map[string]int, 1)
	ok := s.post(func() {
		out := make(map[string]int, len(s.unread))
		for k, v := range s.unread {
			out[k] = v
		}
		res <- out
	})
	if !ok {
		return nil
	}
	return <-res
}

// Close tears the session down: unsubscribes everything, marks the user
// offline and clears all derived state (the badge resets on logout).
func (s *Session) Close() {
	if s.regCancel != nil {
		s.regCancel()
	}
	s.svc.Tracker().SetOnline(s.user, false)
	s.cancel()
	s.post(func() {
		s.unread = map[string]int{}
		s.lastActivity = map[string]int64{}
		s.current = ""
	})
	close(s.done)
}
