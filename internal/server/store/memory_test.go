package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alicia-74/libroredsocial/internal/domain"
)

func TestAppendAssignsServerFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	msg, err := m.Append(ctx, domain.Message{
		ClientToken: "tok-1",
		SenderID:    "alice",
		ReceiverID:  "bob",
		Content:     "hola",
		Provisional: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.SentAt.IsZero())
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.False(t, msg.Provisional)
	assert.Equal(t, "tok-1", msg.ClientToken)
}

func TestAppendIncrementsUnreadForReceiver(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Append(ctx, domain.Message{SenderID: "alice", ReceiverID: "bob", Content: "x"})
		require.NoError(t, err)
	}
	_, err := m.Append(ctx, domain.Message{SenderID: "carol", ReceiverID: "bob", Content: "y"})
	require.NoError(t, err)

	counts, err := m.UnreadCountsBySender(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"alice": 3, "carol": 1}, counts)

	counts, err = m.UnreadCountsBySender(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestConversationIsSharedBothDirections(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Append(ctx, domain.Message{SenderID: "alice", ReceiverID: "bob", Content: "one"})
	require.NoError(t, err)
	_, err = m.Append(ctx, domain.Message{SenderID: "bob", ReceiverID: "alice", Content: "two"})
	require.NoError(t, err)

	ab, err := m.Conversation(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := m.Conversation(ctx, "bob", "alice")
	require.NoError(t, err)

	require.Len(t, ab, 2)
	assert.Equal(t, ab, ba)
	assert.Equal(t, "one", ab[0].Content)
	assert.Equal(t, "two", ab[1].Content)
}

func TestMarkConversationReadFlipsOnlyOneDirection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Append(ctx, domain.Message{SenderID: "alice", ReceiverID: "bob", Content: "to bob"})
	require.NoError(t, err)
	_, err = m.Append(ctx, domain.Message{SenderID: "bob", ReceiverID: "alice", Content: "to alice"})
	require.NoError(t, err)

	changed, err := m.MarkConversationRead(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "to bob", changed[0].Content)
	assert.Equal(t, domain.StatusRead, changed[0].Status)

	msgs, err := m.Conversation(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, msg := range msgs {
		if msg.SenderID == "alice" {
			assert.Equal(t, domain.StatusRead, msg.Status)
		} else {
			assert.Equal(t, domain.StatusSent, msg.Status)
		}
	}

	counts, err := m.UnreadCountsBySender(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, counts)

	counts, err = m.UnreadCountsBySender(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"bob": 1}, counts)
}

func TestMarkConversationReadIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Append(ctx, domain.Message{SenderID: "alice", ReceiverID: "bob", Content: "x"})
	require.NoError(t, err)

	changed, err := m.MarkConversationRead(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, changed, 1)

	changed, err = m.MarkConversationRead(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestFollowGraph(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Follow(ctx, "alice", "bob"))
	require.NoError(t, m.Follow(ctx, "alice", "carol"))
	require.NoError(t, m.Follow(ctx, "dave", "bob"))

	following, err := m.Following(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, following)

	followers, err := m.Followers(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "dave"}, followers)

	require.NoError(t, m.Unfollow(ctx, "alice", "bob"))
	following, err = m.Following(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, following)
}

func TestGetUserNotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.PutUser(ctx, domain.Peer{ID: "alice", Username: "Alice"}))
	user, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Username)
}
