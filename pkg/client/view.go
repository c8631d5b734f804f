package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatsync/pkg/chat"
	"chatsync/pkg/models"
)

// ErrSendInFlight is returned while a previous send has not settled; the
// composer stays disabled until then so one tap cannot produce two writes.
var ErrSendInFlight = errors.New("send already in flight")

// RenderItem is one message prepared for display.
type RenderItem struct {
	Message models.Message
	// DayBreak marks a calendar-day boundary before this message (UTC);
	// the UI renders a date separator above it.
	DayBreak bool
	// ReadByOther is the double-check-mark predicate.
	ReadByOther bool
}

// View is one open conversation: a live ordered message list plus the
// counterpart presence needed for the header. All fields are owned by the
// session loop.
type View struct {
	s      *Session
	chatID string
	conv   *models.Conversation

	items    []RenderItem
	presence map[string]models.Presence

	input   string
	sending bool
	closed  bool

	cancels []func()
}

// Open starts viewing a conversation: records it as the user's current
// chat, marks it read, and subscribes to its message window and to every
// counterpart's presence. Callers MUST Close the view on teardown.
func (s *Session) Open(ctx context.Context, chatID string, limit int) (*View, error) {
	conv, err := s.svc.FetchChatByID(chatID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(s.user) {
		return nil, chat.ErrPermissionDenied
	}
	v := &View{s: s, chatID: chatID, conv: conv, presence: make(map[string]models.Presence)}

	s.svc.SetCurrentChat(s.user, chatID)
	s.post(func() { s.current = chatID })
	if err := s.svc.MarkChatAsRead(ctx, chatID, s.user); err != nil {
		s.clearCurrent()
		return nil, err
	}

	msgCancel, err := s.svc.SubscribeMessages(s.ctx, chatID, limit, func(win []models.Message) {
		s.post(func() { v.setWindow(win) })
	})
	if err != nil {
		s.clearCurrent()
		return nil, err
	}
	v.cancels = append(v.cancels, msgCancel)

	for _, uid := range conv.Counterparts(s.user) {
		pc, perr := s.svc.SubscribePresence(s.ctx, uid, func(p models.Presence) {
			s.post(func() { v.presence[p.User] = p })
		})
		if perr != nil {
			v.teardown()
			s.clearCurrent()
			return nil, perr
		}
		v.cancels = append(v.cancels, pc)
	}
	return v, nil
}

func (s *Session) clearCurrent() {
	s.svc.SetCurrentChat(s.user, "")
	s.post(func() { s.current = "" })
}

// setWindow replaces the derived list from a newest-first protocol window.
// Runs on the session loop.
func (v *View) setWindow(win []models.Message) {
	if v.closed {
		return
	}
	items := make([]RenderItem, 0, len(win))
	// reverse to oldest-first for display
	for i := len(win) - 1; i >= 0; i-- {
		items = append(items, RenderItem{Message: win[i], ReadByOther: win[i].ReadByOther()})
	}
	var prevDay int
	for i := range items {
		day := dayKey(items[i].Message.TS)
		items[i].DayBreak = i == 0 || day != prevDay
		prevDay = day
	}
	v.items = items
}

func dayKey(ts int64) int {
	t := time.Unix(0, ts).UTC()
	return t.Year()*1000 + t.YearDay()
}

// Messages returns the current render list, oldest first.
func (v *View) Messages() []RenderItem {
	res := make(chan []RenderItem, 1)
	ok := v.s.post(func() {
		out := make([]RenderItem, len(v.items))
		copy(out, v.items)
		res <- out
	})
	if !ok {
		return nil
	}
	return <-res
}

// Presence returns the latest scrubbed snapshot for a counterpart.
func (v *View) Presence(userID string) (models.Presence, bool) {
	type ans struct {
		p  models.Presence
		ok bool
	}
	res := make(chan ans, 1)
	posted := v.s.post(func() {
		p, ok := v.presence[userID]
		res <- ans{p, ok}
	})
	if !posted {
		return models.Presence{}, false
	}
	a := <-res
	return a.p, a.ok
}

// SetInput updates the composer text and signals typing to counterparts.
func (v *View) SetInput(text string) {
	v.s.post(func() {
		if v.closed {
			return
		}
		v.input = text
	})
	if text != "" {
		v.s.svc.SetTypingStatus(v.s.user, v.chatID)
	}
}

// Input returns the composer text.
func (v *View) Input() string {
	res := make(chan string, 1)
	if !v.s.post(func() { res <- v.input }) {
		return ""
	}
	return <-res
}

// Send submits the composer text. Optimistic: the input clears immediately
// and the composer is disabled until the write settles. On failure the
// text is restored for a manual retry; nothing is retried automatically
// and local state is never left half-updated.
func (v *View) Send(ctx context.Context) error {
	type reserved struct {
		text string
		err  error
	}
	res := make(chan reserved, 1)
	ok := v.s.post(func() {
		switch {
		case v.closed:
			res <- reserved{err: fmt.Errorf("view closed")}
		case v.sending:
			res <- reserved{err: ErrSendInFlight}
		default:
			v.sending = true
			text := v.input
			v.input = ""
			res <- reserved{text: text}
		}
	})
	if !ok {
		return fmt.Errorf("session closed")
	}
	r := <-res
	if r.err != nil {
		return r.err
	}

	v.s.svc.SetTypingStatus(v.s.user, "")
	err := v.s.svc.SendMessage(ctx, v.chatID, v.s.user, v.s.displayName, v.s.photo, r.text)
	v.s.post(func() {
		v.sending = false
		if err != nil {
			v.input = r.text
		}
	})
	return err
}

// Sending reports whether a send is in flight.
func (v *View) Sending() bool {
	res := make(chan bool, 1)
	if !v.s.post(func() { res <- v.sending }) {
		return false
	}
	return <-res
}

func (v *View) teardown() {
	for _, c := range v.cancels {
		c()
	}
	v.cancels = nil
}

// Close is the required teardown step: it cancels every subscription and
// clears the current-chat marker. Skipping it leaks the subscriptions and
// leaves stale typing/online state on screen, and suppresses badge
// increments for a conversation the user already left.
func (v *View) Close() {
	v.teardown()
	v.s.post(func() { v.closed = true })
	v.s.clearCurrent()
}
