package store

import "fmt"

// Key layout, all insertion-ordered under their prefix:
//
//	chat:<chatID>:meta                     conversation JSON
//	chat:<chatID>:msg:<ts:020d>-<seq:06d>  message JSON, commit-ordered
//	msg:key:<msgID>                        storage key of the message record
//	member:<userID>:<chatID>               participant index (empty value)
//	presence:<userID>                      presence JSON
//
// The padded timestamp plus a process-monotonic sequence gives a total order
// for messages sharing a nanosecond timestamp.

// MetaKey returns the conversation metadata key.
func MetaKey(chatID string) string { return "chat:" + chatID + ":meta" }

// MsgPrefix returns the key prefix shared by all messages of a conversation.
func MsgPrefix(chatID string) string { return "chat:" + chatID + ":msg:" }

// MsgKey returns the storage key for a message committed at ts with the
// given sequence tiebreaker.
func MsgKey(chatID string, ts int64, seq uint64) string {
	return fmt.Sprintf("chat:%s:msg:%020d-%06d", chatID, ts, seq)
}

// MsgIndexKey returns the by-id index key holding a message's storage key.
func MsgIndexKey(msgID string) string { return "msg:key:" + msgID }

// PresenceKey returns the presence record key for a user.
func PresenceKey(userID string) string { return "presence:" + userID }

// MemberKey returns the participant index key for one user/conversation pair.
func MemberKey(userID, chatID string) string { return "member:" + userID + ":" + chatID }

// MemberPrefix returns the prefix covering all of a user's memberships.
func MemberPrefix(userID string) string { return "member:" + userID + ":" }

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for bounded iterators.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
