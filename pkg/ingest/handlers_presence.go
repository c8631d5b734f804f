package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatsync/pkg/feed"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

// applyPresence merges a partial presence update into the stored record.
// Presence is single-owner state, so last-writer-wins is fine here.
func (a *Applier) applyPresence(op *Op) error {
	var patch models.PresencePatch
	if err := json.Unmarshal(op.Payload, &patch); err != nil {
		return fmt.Errorf("invalid presence patch: %w", err)
	}
	if patch.User == "" {
		return fmt.Errorf("presence patch without user")
	}
	p, err := store.GetPresence(patch.User)
	if errors.Is(err, store.ErrNotFound) {
		p = &models.Presence{User: patch.User}
	} else if err != nil {
		return err
	}

	now := time.Now().UTC().UnixNano()
	if patch.Online != nil {
		if p.Online && !*patch.Online {
			p.LastSeen = now
		}
		p.Online = *patch.Online
	}
	if patch.TypingIn != nil {
		p.TypingIn = *patch.TypingIn
	}
	if patch.CurrentChat != nil {
		p.CurrentChat = *patch.CurrentChat
	}
	p.UpdatedTS = now
	if err := store.SavePresence(p); err != nil {
		return err
	}

	snap := *p
	a.hub.Publish(feed.PresenceTopic(p.User), feed.KindPresence, &snap)
	return nil
}

// applyCreateChat persists a new conversation and announces it to every
// participant's registry.
func (a *Applier) applyCreateChat(op *Op) error {
	var conv models.Conversation
	if err := json.Unmarshal(op.Payload, &conv); err != nil {
		return fmt.Errorf("invalid conversation payload: %w", err)
	}
	now := time.Now().UTC().UnixNano()
	conv.CreatedTS = now
	conv.UpdatedTS = now
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int, len(conv.Participants))
	}
	for uid := range conv.Participants {
		if _, ok := conv.UnreadCounts[uid]; !ok {
			conv.UnreadCounts[uid] = 0
		}
	}
	if err := store.SaveConversation(&conv); err != nil {
		return err
	}
	logger.Info("conversation_created", "chat", conv.ID, "type", string(conv.Type), "participants", len(conv.Participants))
	for uid := range conv.Participants {
		c := conv
		a.hub.Publish(feed.RegistryTopic(uid), feed.KindRegistry, &c)
	}
	return nil
}
