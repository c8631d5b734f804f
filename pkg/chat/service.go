// Package chat exposes the synchronization protocol operations: live
// ordered message windows, sends, soft deletes, read reconciliation and
// presence subscriptions. Reads go straight to the store; every mutation
// funnels through the ingest applier so commit order is total per
// conversation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/feed"
	"chatsync/pkg/ingest"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/presence"
	"chatsync/pkg/store"
)

type Service struct {
	q       *ingest.Queue
	hub     *feed.Hub
	tracker *presence.Tracker

	defWindow int
	maxWindow int
}

func New(q *ingest.Queue, hub *feed.Hub, tracker *presence.Tracker, defWindow, maxWindow int) *Service {
	if defWindow <= 0 {
		defWindow = 50
	}
	if maxWindow <= 0 {
		maxWindow = 100
	}
	return &Service{q: q, hub: hub, tracker: tracker, defWindow: defWindow, maxWindow: maxWindow}
}

// Tracker returns the presence tracker backing the fire-and-forget signals.
func (s *Service) Tracker() *presence.Tracker { return s.tracker }

func (s *Service) clampWindow(limit int) int {
	if limit <= 0 {
		return s.defWindow
	}
	if limit > s.maxWindow {
		return s.maxWindow
	}
	return limit
}

// wait blocks until the applier reports the outcome for a submitted op.
func wait(ctx context.Context, res <-chan error) error {
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) submit(ctx context.Context, op *ingest.Op) error {
	res := make(chan error, 1)
	op.Result = res
	if err := s.q.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return wait(ctx, res)
}

// FetchChatByID returns the conversation, or ErrNotFound.
func (s *Service) FetchChatByID(chatID string) (*models.Conversation, error) {
	c, err := store.GetConversation(chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListChatsForUser returns every non-archived conversation the user
// participates in.
func (s *Service) ListChatsForUser(userID string) ([]models.Conversation, error) {
	return store.ListConversationsByMember(userID)
}

// CreateChat validates and persists a new conversation. Direct chats need
// at least two participants.
func (s *Service) CreateChat(ctx context.Context, typ models.ChatType, participants []models.Participant) (*models.Conversation, error) {
	switch typ {
	case models.ChatDirect, models.ChatSupport, models.ChatGroup:
	default:
		return nil, fmt.Errorf("%w: unknown chat type %q", ErrValidation, typ)
	}
	if typ == models.ChatDirect && len(participants) < 2 {
		return nil, fmt.Errorf("%w: direct chat needs at least 2 participants", ErrValidation)
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: chat needs participants", ErrValidation)
	}
	conv := models.Conversation{
		ID:           "chat-" + uuid.NewString(),
		Type:         typ,
		Participants: make(map[string]models.Participant, len(participants)),
	}
	for _, p := range participants {
		if p.UID == "" {
			return nil, fmt.Errorf("%w: participant without uid", ErrValidation)
		}
		conv.Participants[p.UID] = p
	}
	b, err := json.Marshal(&conv)
	if err != nil {
		return nil, err
	}
	if err := s.submit(ctx, &ingest.Op{Type: ingest.OpCreateChat, Chat: conv.ID, Payload: b}); err != nil {
		return nil, err
	}
	return s.FetchChatByID(conv.ID)
}

// SendRequest is the full send surface; SendMessage covers the common text
// case.
type SendRequest struct {
	Chat        string
	Sender      string
	SenderName  string
	SenderPhoto string
	Type        models.MessageType
	Text        string
	Media       string
	ReplyTo     *models.ReplyRef
}

// Send appends one message. Validation failures are rejected before any
// write; pipeline failures wrap ErrSendFailed and the caller decides
// whether to re-send.
func (s *Service) Send(ctx context.Context, req SendRequest) error {
	if strings.TrimSpace(req.Text) == "" && req.Media == "" {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if req.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrValidation)
	}
	conv, err := s.FetchChatByID(req.Chat)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(req.Sender) {
		return ErrPermissionDenied
	}
	m := models.Message{
		ID:          "msg-" + uuid.NewString(),
		Sender:      req.Sender,
		SenderName:  req.SenderName,
		SenderPhoto: req.SenderPhoto,
		Type:        req.Type,
		Content:     &models.Content{Text: req.Text, Media: req.Media},
		ReplyTo:     req.ReplyTo,
	}
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	res := make(chan error, 1)
	op := &ingest.Op{Type: ingest.OpSend, Chat: req.Chat, User: req.Sender, Payload: b, Result: res}
	if err := s.q.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if err := wait(ctx, res); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// SendMessage appends a plain text message.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID, senderName, senderPhoto, text string) error {
	return s.Send(ctx, SendRequest{
		Chat:        chatID,
		Sender:      senderID,
		SenderName:  senderName,
		SenderPhoto: senderPhoto,
		Type:        models.MessageText,
		Text:        text,
	})
}

// DeleteMessage soft-deletes a message. Only the sender may delete; the
// record stays in the window with deleted=true and no content.
func (s *Service) DeleteMessage(ctx context.Context, chatID, msgID, actorID string) error {
	m, _, err := store.GetMessageByID(msgID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if m.Chat != chatID {
		return ErrNotFound
	}
	if m.Sender != actorID {
		return ErrPermissionDenied
	}
	return s.submit(ctx, &ingest.Op{Type: ingest.OpDelete, Chat: chatID, ID: msgID, User: actorID})
}

// MarkChatAsRead stamps read receipts for every fetched message the user
// has not read and zeroes the user's unread counter. Idempotent.
func (s *Service) MarkChatAsRead(ctx context.Context, chatID, userID string) error {
	conv, err := s.FetchChatByID(chatID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return ErrPermissionDenied
	}
	return s.submit(ctx, &ingest.Op{Type: ingest.OpMarkRead, Chat: chatID, User: userID})
}

// SetTypingStatus is fire-and-forget: empty chatID clears the indicator.
func (s *Service) SetTypingStatus(userID, chatID string) {
	s.tracker.SetTyping(userID, chatID)
}

// SetCurrentChat is fire-and-forget: records the actively-viewed
// conversation, empty on view teardown.
func (s *Service) SetCurrentChat(userID, chatID string) {
	s.tracker.SetCurrentChat(userID, chatID)
}

// SubscribeMessages delivers the most recent limit messages of a
// conversation, newest first, once immediately and again in full after
// every mutation inside the window. Failure to establish the subscription
// is reported here, once; the callback itself cannot fail. The returned
// cancel is single-use and stops delivery immediately.
func (s *Service) SubscribeMessages(ctx context.Context, chatID string, limit int, fn func([]models.Message)) (func(), error) {
	if _, err := s.FetchChatByID(chatID); err != nil {
		return nil, err
	}
	limit = s.clampWindow(limit)
	sub := s.hub.Subscribe(feed.ChatTopic(chatID))
	go func() {
		s.deliverWindow(chatID, limit, fn)
		for {
			select {
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				s.deliverWindow(chatID, limit, fn)
			case <-ctx.Done():
				sub.Cancel()
				return
			}
		}
	}()
	return once(sub.Cancel), nil
}

// MessageWindow fetches the most recent limit messages once, newest first.
func (s *Service) MessageWindow(chatID string, limit int) ([]models.Message, error) {
	win, err := store.MessageWindow(chatID, s.clampWindow(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return win, nil
}

// PresenceSnapshot fetches one user's presence, stale typing scrubbed.
func (s *Service) PresenceSnapshot(userID string) (models.Presence, error) {
	p, err := store.GetPresence(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Presence{}, ErrNotFound
		}
		return models.Presence{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return presence.Scrub(*p, s.tracker.StaleAfter(), timeNow()), nil
}

func (s *Service) deliverWindow(chatID string, limit int, fn func([]models.Message)) {
	win, err := store.MessageWindow(chatID, limit)
	if err != nil {
		logger.Error("window_refresh_failed", "chat", chatID, "error", err)
		return
	}
	fn(win)
}

// SubscribeRegistry delivers the user's conversations once at setup and
// then each conversation again whenever it changes. The sync layer derives
// unread totals from these events.
func (s *Service) SubscribeRegistry(ctx context.Context, userID string, fn func(*models.Conversation)) (func(), error) {
	initial, err := store.ListConversationsByMember(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	sub := s.hub.Subscribe(feed.RegistryTopic(userID))
	go func() {
		for i := range initial {
			fn(&initial[i])
		}
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if c, ok := ev.Payload.(*models.Conversation); ok {
					fn(c)
				}
			case <-ctx.Done():
				sub.Cancel()
				return
			}
		}
	}()
	return once(sub.Cancel), nil
}

// SubscribePresence delivers presence snapshots for one user, stale typing
// flags scrubbed. Users that never connected yield no initial snapshot.
func (s *Service) SubscribePresence(ctx context.Context, userID string, fn func(models.Presence)) (func(), error) {
	stale := s.tracker.StaleAfter()
	initial, err := store.GetPresence(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	sub := s.hub.Subscribe(feed.PresenceTopic(userID))
	go func() {
		if initial != nil {
			fn(presence.Scrub(*initial, stale, timeNow()))
		}
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if p, ok := ev.Payload.(*models.Presence); ok {
					fn(presence.Scrub(*p, stale, timeNow()))
				}
			case <-ctx.Done():
				sub.Cancel()
				return
			}
		}
	}()
	return once(sub.Cancel), nil
}

// timeNow is swappable in tests.
var timeNow = time.Now

// once wraps a cancel so double-cancel from teardown paths is harmless.
func once(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}
