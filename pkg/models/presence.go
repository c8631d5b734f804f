package models

// Presence is single-owner state: only the owning user's client writes it,
// so last-writer-wins is acceptable here and nowhere else.
type Presence struct {
	User   string `json:"user"`
	Online bool   `json:"online"`
	// LastSeen is stamped on the transition to offline (ns).
	LastSeen int64 `json:"last_seen,omitempty"`
	// TypingIn is the conversation the user is typing in, or empty.
	TypingIn string `json:"typing_in,omitempty"`
	// CurrentChat is the conversation the user is actively viewing, or
	// empty. Consumed by the read reconciler to auto-mark-read on arrival.
	CurrentChat string `json:"current_chat,omitempty"`
	// UpdatedTS is the freshness stamp (ns); readers treat old typing
	// flags as expired instead of trusting them indefinitely.
	UpdatedTS int64 `json:"updated_ts"`
}

// PresencePatch is a partial presence update merged by the applier. Nil
// pointer fields leave the current value untouched.
type PresencePatch struct {
	User        string  `json:"user"`
	Online      *bool   `json:"online,omitempty"`
	TypingIn    *string `json:"typing_in,omitempty"`
	CurrentChat *string `json:"current_chat,omitempty"`
	// Heartbeat refreshes UpdatedTS without changing any field.
	Heartbeat bool `json:"heartbeat,omitempty"`
}
