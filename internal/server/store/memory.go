package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Alicia-74/libroredsocial/internal/domain"
)

// Memory is the default Store: good for tests and single-node development.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]domain.Peer
	follows  map[string]map[string]bool // followerID -> followeeID
	messages map[string][]*domain.Message
	unread   map[string]map[string]int64 // receiverID -> senderID -> count
	seq      int64
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]domain.Peer),
		follows:  make(map[string]map[string]bool),
		messages: make(map[string][]*domain.Message),
		unread:   make(map[string]map[string]int64),
	}
}

func (m *Memory) PutUser(ctx context.Context, user domain.Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (domain.Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return domain.Peer{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) Follow(ctx context.Context, followerID, followeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.follows[followerID]; !ok {
		m.follows[followerID] = make(map[string]bool)
	}
	m.follows[followerID][followeeID] = true
	return nil
}

func (m *Memory) Unfollow(ctx context.Context, followerID, followeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.follows[followerID], followeeID)
	return nil
}

func (m *Memory) Following(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.follows[userID]))
	for id := range m.follows[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Followers(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for follower, followees := range m.follows {
		if followees[userID] {
			out = append(out, follower)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	msg.ID = strconv.FormatInt(m.seq, 10)
	msg.SentAt = time.Now().UTC()
	msg.Status = domain.StatusSent
	msg.Provisional = false

	key := domain.ConversationKey(msg.SenderID, msg.ReceiverID)
	stored := msg
	m.messages[key] = append(m.messages[key], &stored)

	if _, ok := m.unread[msg.ReceiverID]; !ok {
		m.unread[msg.ReceiverID] = make(map[string]int64)
	}
	m.unread[msg.ReceiverID][msg.SenderID]++

	return msg, nil
}

func (m *Memory) Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := domain.ConversationKey(userA, userB)
	msgs := m.messages[key]
	out := make([]domain.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = *msg
	}
	// Appended in persist order; sort anyway in case of clock skew.
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (m *Memory) MarkConversationRead(ctx context.Context, senderID, receiverID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []domain.Message
	key := domain.ConversationKey(senderID, receiverID)
	for _, msg := range m.messages[key] {
		if msg.SenderID == senderID && msg.ReceiverID == receiverID && msg.Status == domain.StatusSent {
			msg.Status = domain.StatusRead
			changed = append(changed, *msg)
		}
	}

	if counts, ok := m.unread[receiverID]; ok {
		delete(counts, senderID)
	}
	return changed, nil
}

func (m *Memory) UnreadCountsBySender(ctx context.Context, receiverID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.unread[receiverID]))
	for senderID, count := range m.unread[receiverID] {
		if count > 0 {
			out[senderID] = count
		}
	}
	return out, nil
}
