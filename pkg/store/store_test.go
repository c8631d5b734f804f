package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"chatsync/pkg/models"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func putMessage(t *testing.T, chatID string, ts int64, seq uint64, m models.Message) string {
	t.Helper()
	m.Chat = chatID
	m.TS = ts
	m.Seq = seq
	key := MsgKey(chatID, ts, seq)
	wb := NewBatch()
	b, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	wb.Set([]byte(key), b, nil)
	wb.Set([]byte(MsgIndexKey(m.ID)), []byte(key), nil)
	if err := ApplyBatch(wb, true); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	return key
}

func TestConversationRoundtrip(t *testing.T) {
	openTestDB(t)

	c := &models.Conversation{
		ID:   "c1",
		Type: models.ChatDirect,
		Participants: map[string]models.Participant{
			"u1": {UID: "u1"},
			"u2": {UID: "u2"},
		},
	}
	if err := SaveConversation(c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetConversation("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "c1" || len(got.Participants) != 2 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if _, err := GetConversation("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationsByMember(t *testing.T) {
	openTestDB(t)

	for i, members := range [][]string{{"u1", "u2"}, {"u1", "u3"}, {"u2", "u3"}} {
		c := &models.Conversation{ID: fmt.Sprintf("c%d", i), Type: models.ChatDirect, Participants: map[string]models.Participant{}}
		for _, uid := range members {
			c.Participants[uid] = models.Participant{UID: uid}
		}
		if err := SaveConversation(c); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := ListConversationsByMember("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations for u1, got %d", len(got))
	}

	// archived conversations are hidden
	arch := &models.Conversation{ID: "c0", Type: models.ChatDirect, Archived: true,
		Participants: map[string]models.Participant{"u1": {UID: "u1"}, "u2": {UID: "u2"}}}
	if err := SaveConversation(arch); err != nil {
		t.Fatalf("save archived: %v", err)
	}
	got, err = ListConversationsByMember("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected archived conversation hidden, got %d", len(got))
	}
}

func TestMessageWindowNewestFirst(t *testing.T) {
	openTestDB(t)

	for i := 1; i <= 5; i++ {
		putMessage(t, "c1", int64(i*100), uint64(i), models.Message{
			ID: fmt.Sprintf("m%d", i), Sender: "u1",
			Content: &models.Content{Text: fmt.Sprintf("msg %d", i)},
		})
	}

	win, err := MessageWindow("c1", 3)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(win) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(win))
	}
	if win[0].ID != "m5" || win[1].ID != "m4" || win[2].ID != "m3" {
		t.Fatalf("expected newest first m5,m4,m3; got %s,%s,%s", win[0].ID, win[1].ID, win[2].ID)
	}

	// limit <= 0 returns everything
	all, err := MessageWindow("c1", 0)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected all 5 messages, got %d", len(all))
	}
}

func TestMessageWindowEmptyChat(t *testing.T) {
	openTestDB(t)

	win, err := MessageWindow("nobody-home", 50)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(win) != 0 {
		t.Fatalf("expected empty window, got %d", len(win))
	}
}

func TestEqualTimestampOrderedBySeq(t *testing.T) {
	openTestDB(t)

	ts := int64(1000)
	putMessage(t, "c1", ts, 1, models.Message{ID: "first", Sender: "u1", Content: &models.Content{Text: "a"}})
	putMessage(t, "c1", ts, 2, models.Message{ID: "second", Sender: "u1", Content: &models.Content{Text: "b"}})

	entries, err := ListMessageEntries("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Msg.ID != "first" || entries[1].Msg.ID != "second" {
		t.Fatalf("seq tiebreak broken: %+v", entries)
	}
}

func TestOverwriteInPlaceKeepsPosition(t *testing.T) {
	openTestDB(t)

	putMessage(t, "c1", 100, 1, models.Message{ID: "m1", Sender: "u1", Content: &models.Content{Text: "hello"}})
	putMessage(t, "c1", 200, 2, models.Message{ID: "m2", Sender: "u1", Content: &models.Content{Text: "world"}})

	m, key, err := GetMessageByID("m1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	m.Deleted = true
	m.Content = nil
	b, _ := json.Marshal(m)
	wb := NewBatch()
	wb.Set([]byte(key), b, nil)
	if err := ApplyBatch(wb, true); err != nil {
		t.Fatalf("apply: %v", err)
	}

	win, err := MessageWindow("c1", 10)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(win) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(win))
	}
	// oldest slot still holds m1, now deleted
	if win[1].ID != "m1" || !win[1].Deleted || win[1].Text() != "" {
		t.Fatalf("expected deleted m1 in place, got %+v", win[1])
	}
}

func TestGetMessageByIDMissing(t *testing.T) {
	openTestDB(t)

	if _, _, err := GetMessageByID("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPresenceRoundtrip(t *testing.T) {
	openTestDB(t)

	p := &models.Presence{User: "u1", Online: true, TypingIn: "c1", UpdatedTS: 42}
	if err := SavePresence(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetPresence("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Online || got.TypingIn != "c1" || got.UpdatedTS != 42 {
		t.Fatalf("unexpected presence: %+v", got)
	}
	if _, err := GetPresence("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = SavePresence(&models.Presence{User: "u2", Online: false})
	all, err := ListPresence()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 presence records, got %d", len(all))
	}
}
