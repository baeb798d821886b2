package domain

import (
	"strings"
	"time"
)

// MessageStatus is the delivery state of a message. It only moves forward:
// pending → sent → read.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusRead    MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusPending: 0,
	StatusSent:    1,
	StatusRead:    2,
}

// AtLeast returns the more advanced of the two statuses. Used when merging a
// duplicate delivery so a read message never regresses to sent.
func (s MessageStatus) AtLeast(other MessageStatus) MessageStatus {
	if statusRank[other] > statusRank[s] {
		return other
	}
	return s
}

// Message is a direct message between two users.
//
// ID is assigned by the backend once persisted and is empty on optimistic
// local messages. ClientToken is generated by the sending client and is the
// correlation key used to reconcile an optimistic message with its confirmed
// copy.
type Message struct {
	ID          string        `json:"id,omitempty"`
	ClientToken string        `json:"client_token,omitempty"`
	SenderID    string        `json:"sender_id"`
	ReceiverID  string        `json:"receiver_id"`
	Content     string        `json:"content"`
	SentAt      time.Time     `json:"sent_at"`
	Status      MessageStatus `json:"status"`
	Provisional bool          `json:"-"`
}

// Between reports whether the message belongs to the conversation between a
// and b, regardless of direction.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

// ConversationKey returns the canonical key for the unordered pair {a, b}.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// ValidContent reports whether content survives trimming. Whitespace-only
// messages are rejected before any network call.
func ValidContent(content string) bool {
	return strings.TrimSpace(content) != ""
}

// Peer is a chat-eligible counterpart of the current user.
type Peer struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}
