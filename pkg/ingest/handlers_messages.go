package ingest

import (
	"encoding/json"
	"fmt"

	"chatsync/pkg/feed"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
)

// applySend commits one message. The message record, the conversation's
// last-message snapshot and the bumped unread counters land in a single
// batch: no reader can observe one without the others.
func (a *Applier) applySend(op *Op) error {
	var m models.Message
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}
	conv, err := store.GetConversation(op.Chat)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(m.Sender) {
		return ErrPermissionDenied
	}

	ts, seq := a.stamp(op.Chat)
	m.Chat = op.Chat
	m.TS = ts
	m.Seq = seq
	if m.Type == "" {
		m.Type = models.MessageText
	}
	if m.ReadBy == nil {
		m.ReadBy = make(map[string]int64)
	}

	// Recipients currently viewing this conversation are read immediately;
	// everyone else gets their counter bumped.
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int)
	}
	for uid := range conv.Participants {
		if uid == m.Sender {
			continue
		}
		if p, perr := store.GetPresence(uid); perr == nil && p.CurrentChat == op.Chat {
			m.ReadBy[uid] = ts
			continue
		}
		conv.UnreadCounts[uid] = conv.Unread(uid) + 1
	}
	conv.LastMessage = &models.LastMessage{ID: m.ID, Text: m.Text(), Sender: m.Sender, TS: ts}
	conv.UpdatedTS = ts

	key := store.MsgKey(op.Chat, ts, seq)
	mb, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	cb, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	wb := store.NewBatch()
	wb.Set([]byte(key), mb, nil)
	wb.Set([]byte(store.MsgIndexKey(m.ID)), []byte(key), nil)
	wb.Set([]byte(store.MetaKey(conv.ID)), cb, nil)
	if err := store.ApplyBatch(wb, true); err != nil {
		return err
	}

	telemetry.MessagesSent.Inc()
	logger.Debug("message_committed", "chat", op.Chat, "msg", m.ID, "ts", ts)
	a.publishChat(conv)
	return nil
}

// applyDelete soft-deletes a message in place: the record keeps its key so
// its window position is stable, but content is gone for every subscriber,
// including ones that had already fetched it.
func (a *Applier) applyDelete(op *Op) error {
	m, key, err := store.GetMessageByID(op.ID)
	if err != nil {
		return err
	}
	if op.Chat != "" && m.Chat != op.Chat {
		return ErrNotFound
	}
	if op.User != m.Sender {
		return ErrPermissionDenied
	}
	conv, err := store.GetConversation(m.Chat)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil // already resolved
	}
	m.Deleted = true
	m.Content = nil

	mb, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	wb := store.NewBatch()
	wb.Set([]byte(key), mb, nil)
	if lm := conv.LastMessage; lm != nil && lm.ID == m.ID {
		conv.LastMessage = &models.LastMessage{ID: m.ID, Sender: m.Sender, TS: m.TS, Deleted: true}
		cb, cerr := json.Marshal(conv)
		if cerr != nil {
			return fmt.Errorf("marshal conversation: %w", cerr)
		}
		wb.Set([]byte(store.MetaKey(conv.ID)), cb, nil)
	}
	if err := store.ApplyBatch(wb, true); err != nil {
		return err
	}

	telemetry.MessagesDeleted.Inc()
	logger.Debug("message_deleted", "chat", m.Chat, "msg", m.ID, "actor", op.User)
	a.publishChat(conv)
	return nil
}

// applyMarkRead stamps read_by for every stored message the user has not
// read yet and zeroes the user's unread counter. Idempotent: a second run
// finds nothing to stamp and writes the same counter.
func (a *Applier) applyMarkRead(op *Op) error {
	conv, err := store.GetConversation(op.Chat)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(op.User) {
		return ErrPermissionDenied
	}
	entries, err := store.ListMessageEntries(op.Chat)
	if err != nil {
		return err
	}
	now, _ := a.stamp(op.Chat)

	wb := store.NewBatch()
	stamped := 0
	for i := range entries {
		m := &entries[i].Msg
		if m.IsReadBy(op.User) {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]int64)
		}
		m.ReadBy[op.User] = now
		mb, merr := json.Marshal(m)
		if merr != nil {
			return fmt.Errorf("marshal message: %w", merr)
		}
		wb.Set([]byte(entries[i].Key), mb, nil)
		stamped++
	}
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int)
	}
	conv.UnreadCounts[op.User] = 0
	cb, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	wb.Set([]byte(store.MetaKey(conv.ID)), cb, nil)
	if err := store.ApplyBatch(wb, true); err != nil {
		return err
	}

	telemetry.ReadsMarked.Inc()
	logger.Debug("chat_marked_read", "chat", op.Chat, "user", op.User, "stamped", stamped)
	a.publishChat(conv)
	return nil
}

// publishChat announces a conversation change on the chat topic and on
// every participant's registry topic. Registry events carry the refreshed
// conversation; window subscribers re-read their own window.
func (a *Applier) publishChat(conv *models.Conversation) {
	a.hub.Publish(feed.ChatTopic(conv.ID), feed.KindMessages, nil)
	for uid := range conv.Participants {
		c := *conv
		a.hub.Publish(feed.RegistryTopic(uid), feed.KindRegistry, &c)
	}
}
