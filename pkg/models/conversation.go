package models

type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatSupport ChatType = "support"
	ChatGroup   ChatType = "group"
)

// Participant is the member record denormalized onto the conversation.
type Participant struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

// LastMessage is the snapshot rendered in conversation lists. It is written
// in the same batch as the message it mirrors, so readers never observe one
// without the other.
type LastMessage struct {
	// ID of the mirrored message; deletes match on it, not on (TS, Sender),
	// which can collide when one sender's messages share a stamped TS.
	ID      string `json:"id,omitempty"`
	Text    string `json:"text,omitempty"`
	Sender  string `json:"sender,omitempty"`
	TS      int64  `json:"ts,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

type Conversation struct {
	ID           string                 `json:"id"`
	Type         ChatType               `json:"type"`
	Participants map[string]Participant `json:"participants"`
	LastMessage  *LastMessage           `json:"last_message,omitempty"`
	// UnreadCounts maps participant id -> unread message count, never
	// negative. Reset by mark-read, recomputed rather than trusted.
	UnreadCounts map[string]int `json:"unread_counts,omitempty"`
	CreatedTS    int64          `json:"created_ts,omitempty"`
	UpdatedTS    int64          `json:"updated_ts,omitempty"`
	// Conversations are never hard-deleted; Archived hides them from lists.
	Archived   bool  `json:"archived,omitempty"`
	ArchivedTS int64 `json:"archived_ts,omitempty"`
}

// HasParticipant reports whether uid is a member of the conversation.
func (c *Conversation) HasParticipant(uid string) bool {
	_, ok := c.Participants[uid]
	return ok
}

// Unread returns the unread count for uid, zero for unknown users.
func (c *Conversation) Unread(uid string) int {
	n := c.UnreadCounts[uid]
	if n < 0 {
		return 0
	}
	return n
}

// Counterparts returns the ids of every participant other than uid.
func (c *Conversation) Counterparts(uid string) []string {
	out := make([]string, 0, len(c.Participants))
	for id := range c.Participants {
		if id != uid {
			out = append(out, id)
		}
	}
	return out
}
