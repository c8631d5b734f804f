package models

// MessageType enumerates the supported message payload kinds.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
)

// Content is the renderable payload of a message. Text and Media may both be
// set (caption plus attachment reference).
type Content struct {
	Text  string `json:"text,omitempty"`
	Media string `json:"media,omitempty"`
}

// ReplyRef is a point-in-time copy of the message being replied to.
// Denormalized on purpose: later changes to the original do not propagate.
type ReplyRef struct {
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

type Message struct {
	ID          string      `json:"id"`
	Chat        string      `json:"chat"`
	Sender      string      `json:"sender"`
	SenderName  string      `json:"sender_name,omitempty"`
	SenderPhoto string      `json:"sender_photo,omitempty"`
	Type        MessageType `json:"type"`
	Content     *Content    `json:"content,omitempty"`
	// TS is assigned by the applier at commit time (ns); clients never set it.
	// Non-decreasing within a conversation.
	TS int64 `json:"ts"`
	// Seq is the applier's insertion tiebreaker for equal timestamps.
	Seq uint64 `json:"seq,omitempty"`
	// ReadBy maps reader id -> read timestamp (ns).
	ReadBy map[string]int64 `json:"read_by,omitempty"`
	// Deleted marks a soft delete; the stored record keeps no content after it.
	Deleted bool      `json:"deleted,omitempty"`
	Edited  bool      `json:"edited,omitempty"`
	ReplyTo *ReplyRef `json:"reply_to,omitempty"`
}

// IsReadBy reports whether uid has marked the message read.
func (m *Message) IsReadBy(uid string) bool {
	_, ok := m.ReadBy[uid]
	return ok
}

// ReadByOther reports whether any user other than the sender has marked the
// message read. This is the 1:1 "double check mark" predicate.
func (m *Message) ReadByOther() bool {
	for uid := range m.ReadBy {
		if uid != m.Sender {
			return true
		}
	}
	return false
}

// Text returns the text content, or empty for deleted or content-less
// messages.
func (m *Message) Text() string {
	if m.Deleted || m.Content == nil {
		return ""
	}
	return m.Content.Text
}
