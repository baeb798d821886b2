// Package store holds the reference backend's persistence interfaces and
// their in-memory and Redis implementations.
package store

import (
	"context"
	"errors"

	"github.com/Alicia-74/libroredsocial/internal/domain"
)

var ErrNotFound = errors.New("not found")

// UserStore keeps user profiles for peer-list responses.
type UserStore interface {
	PutUser(ctx context.Context, user domain.Peer) error
	GetUser(ctx context.Context, id string) (domain.Peer, error)
}

// FollowStore keeps the follow graph that defines chat eligibility.
type FollowStore interface {
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	Following(ctx context.Context, userID string) ([]string, error)
	Followers(ctx context.Context, userID string) ([]string, error)
}

// MessageStore persists messages and per-receiver unread counters.
type MessageStore interface {
	// Append persists a message, assigning id, server timestamp and sent
	// status, and increments the receiver's unread counter for the sender.
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)

	// Conversation returns the history between two users, ascending by
	// sent time.
	Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error)

	// MarkConversationRead flips every sent message from senderID to
	// receiverID to read, zeroes the unread counter, and returns the
	// messages that changed so receipts can be pushed.
	MarkConversationRead(ctx context.Context, senderID, receiverID string) ([]domain.Message, error)

	// UnreadCountsBySender returns receiverID's per-sender unread counters.
	UnreadCountsBySender(ctx context.Context, receiverID string) (map[string]int64, error)
}

// Store bundles the three concerns; both implementations satisfy it.
type Store interface {
	UserStore
	FollowStore
	MessageStore
}
