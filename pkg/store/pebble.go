package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

var db *pebble.DB

// ErrNotFound is returned for lookups of keys that do not exist.
var ErrNotFound = errors.New("store: not found")

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

func notOpen() error { return fmt.Errorf("pebble not opened; call store.Open first") }

func mapErr(err error) error {
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// NewBatch returns a write batch for atomic multi-key application.
func NewBatch() *pebble.Batch { return new(pebble.Batch) }

// ApplyBatch applies a write batch atomically. Readers never observe a
// partially applied batch.
func ApplyBatch(b *pebble.Batch, sync bool) error {
	if db == nil {
		return notOpen()
	}
	opt := pebble.NoSync
	if sync {
		opt = pebble.Sync
	}
	return db.Apply(b, opt)
}

func getJSON(key string, out any) error {
	if db == nil {
		return notOpen()
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return mapErr(err)
	}
	defer closer.Close()
	return json.Unmarshal(v, out)
}

func setJSON(key string, v any) error {
	if db == nil {
		return notOpen()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return db.Set([]byte(key), b, pebble.Sync)
}

// SaveConversation writes the conversation metadata and its participant
// index entries in one atomic batch.
func SaveConversation(c *models.Conversation) error {
	if db == nil {
		return notOpen()
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	wb := new(pebble.Batch)
	wb.Set([]byte(MetaKey(c.ID)), b, nil)
	for uid := range c.Participants {
		wb.Set([]byte(MemberKey(uid, c.ID)), nil, nil)
	}
	if err := db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "chat", c.ID, "error", err)
		return err
	}
	logger.Debug("conversation_saved", "chat", c.ID)
	return nil
}

// GetConversation returns the conversation for chatID, or ErrNotFound.
func GetConversation(chatID string) (*models.Conversation, error) {
	var c models.Conversation
	if err := getJSON(MetaKey(chatID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversationsByMember returns every non-archived conversation the
// user participates in, via the member index.
func ListConversationsByMember(userID string) ([]models.Conversation, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte(MemberPrefix(userID))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.First(); iter.Valid(); iter.Next() {
		chatID := string(iter.Key()[len(prefix):])
		c, cerr := GetConversation(chatID)
		if cerr != nil {
			if errors.Is(cerr, ErrNotFound) {
				continue // dangling index entry
			}
			return nil, cerr
		}
		if c.Archived {
			continue
		}
		out = append(out, *c)
	}
	return out, iter.Error()
}

// Entry pairs a message with its storage key so callers can overwrite the
// record in place (read stamps, soft deletes) without moving it in the
// window.
type Entry struct {
	Key string
	Msg models.Message
}

// ListMessageEntries returns all messages of a conversation in commit
// order, oldest first. An empty conversation yields an empty slice.
func ListMessageEntries(chatID string) ([]Entry, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte(MsgPrefix(chatID))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message at %s: %w", iter.Key(), err)
		}
		out = append(out, Entry{Key: string(iter.Key()), Msg: m})
	}
	return out, iter.Error()
}

// MessageWindow returns the most recent limit messages of a conversation,
// newest first. limit <= 0 returns everything.
func MessageWindow(chatID string, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte(MsgPrefix(chatID))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make([]models.Message, 0, limit)
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// GetMessageByID resolves a message through the by-id index and returns the
// record together with its storage key.
func GetMessageByID(msgID string) (*models.Message, string, error) {
	if db == nil {
		return nil, "", notOpen()
	}
	v, closer, err := db.Get([]byte(MsgIndexKey(msgID)))
	if err != nil {
		return nil, "", mapErr(err)
	}
	key := string(v)
	closer.Close()
	mv, mcloser, err := db.Get([]byte(key))
	if err != nil {
		return nil, "", mapErr(err)
	}
	defer mcloser.Close()
	var m models.Message
	if err := json.Unmarshal(mv, &m); err != nil {
		return nil, "", fmt.Errorf("invalid message %s: %w", msgID, err)
	}
	return &m, key, nil
}

// SavePresence overwrites the presence record for p.User.
func SavePresence(p *models.Presence) error {
	return setJSON(PresenceKey(p.User), p)
}

// GetPresence returns the presence record for userID, or ErrNotFound for
// users that never connected.
func GetPresence(userID string) (*models.Presence, error) {
	var p models.Presence
	if err := getJSON(PresenceKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPresence returns every stored presence record, for the sweeper.
func ListPresence() ([]models.Presence, error) {
	if db == nil {
		return nil, notOpen()
	}
	prefix := []byte("presence:")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Presence
	for iter.First(); iter.Valid(); iter.Next() {
		var p models.Presence
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("invalid presence at %s: %w", iter.Key(), err)
		}
		out = append(out, p)
	}
	return out, iter.Error()
}
