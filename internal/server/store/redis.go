package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/domain"
)

const (
	usersKey           = "chat:users"
	messageSeqKey      = "chat:seq"
	conversationPrefix = "chat:conv:"
	unreadPrefix       = "chat:unread:"
	followingPrefix    = "social:following:"
	followersPrefix    = "social:followers:"
)

// Redis is the Store used when the backend runs with shared state.
type Redis struct {
	client *redis.Client
}

func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func conversationKey(a, b string) string {
	return conversationPrefix + domain.ConversationKey(a, b)
}

func (r *Redis) PutUser(ctx context.Context, user domain.Peer) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := r.client.HSet(ctx, usersKey, user.ID, data).Err(); err != nil {
		return fmt.Errorf("redis put user: %w", err)
	}
	return nil
}

func (r *Redis) GetUser(ctx context.Context, id string) (domain.Peer, error) {
	data, err := r.client.HGet(ctx, usersKey, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Peer{}, ErrNotFound
		}
		return domain.Peer{}, fmt.Errorf("redis get user: %w", err)
	}
	var user domain.Peer
	if err := json.Unmarshal(data, &user); err != nil {
		return domain.Peer{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return user, nil
}

func (r *Redis) Follow(ctx context.Context, followerID, followeeID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, followingPrefix+followerID, followeeID)
	pipe.SAdd(ctx, followersPrefix+followeeID, followerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis follow: %w", err)
	}
	return nil
}

func (r *Redis) Unfollow(ctx context.Context, followerID, followeeID string) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, followingPrefix+followerID, followeeID)
	pipe.SRem(ctx, followersPrefix+followeeID, followerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis unfollow: %w", err)
	}
	return nil
}

func (r *Redis) Following(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, followingPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis following: %w", err)
	}
	return ids, nil
}

func (r *Redis) Followers(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, followersPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis followers: %w", err)
	}
	return ids, nil
}

func (r *Redis) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	id, err := r.client.Incr(ctx, messageSeqKey).Result()
	if err != nil {
		return domain.Message{}, fmt.Errorf("redis message id: %w", err)
	}
	msg.ID = fmt.Sprintf("%d", id)
	msg.SentAt = time.Now().UTC()
	msg.Status = domain.StatusSent
	msg.Provisional = false

	data, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, conversationKey(msg.SenderID, msg.ReceiverID), data)
	pipe.HIncrBy(ctx, unreadPrefix+msg.ReceiverID, msg.SenderID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("redis append message: %w", err)
	}
	return msg, nil
}

func (r *Redis) Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	items, err := r.client.LRange(ctx, conversationKey(userA, userB), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis conversation: %w", err)
	}

	out := make([]domain.Message, 0, len(items))
	for _, item := range items {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Redis) MarkConversationRead(ctx context.Context, senderID, receiverID string) ([]domain.Message, error) {
	key := conversationKey(senderID, receiverID)
	items, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis conversation: %w", err)
	}

	var changed []domain.Message
	for i, item := range items {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		if msg.SenderID != senderID || msg.ReceiverID != receiverID || msg.Status != domain.StatusSent {
			continue
		}
		msg.Status = domain.StatusRead
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		if err := r.client.LSet(ctx, key, int64(i), data).Err(); err != nil {
			return nil, fmt.Errorf("redis mark read: %w", err)
		}
		changed = append(changed, msg)
	}

	if err := r.client.HDel(ctx, unreadPrefix+receiverID, senderID).Err(); err != nil {
		return nil, fmt.Errorf("redis clear unread: %w", err)
	}
	return changed, nil
}

func (r *Redis) UnreadCountsBySender(ctx context.Context, receiverID string) (map[string]int64, error) {
	fields, err := r.client.HGetAll(ctx, unreadPrefix+receiverID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis unread counts: %w", err)
	}

	out := make(map[string]int64, len(fields))
	for senderID, raw := range fields {
		var count int64
		if _, err := fmt.Sscanf(raw, "%d", &count); err != nil {
			continue
		}
		if count > 0 {
			out[senderID] = count
		}
	}
	return out, nil
}
