// Package api is the typed REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Alicia-74/libroredsocial/internal/domain"
)

// ErrUnauthorized marks an authentication failure (missing, invalid or
// expired credential). Callers surface it as a redirect-to-login condition,
// not as a generic request error.
var ErrUnauthorized = errors.New("unauthorized")

// TokenSource provides the bearer credential for outgoing requests.
type TokenSource interface {
	BearerToken() string
}

// Client talks to the chat backend's REST surface.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// Following returns the users userID follows.
func (c *Client) Following(ctx context.Context, userID string) ([]domain.Peer, error) {
	var peers []domain.Peer
	err := c.get(ctx, fmt.Sprintf("/users/%s/following", url.PathEscape(userID)), &peers)
	if err != nil {
		return nil, err
	}
	return peers, nil
}

// Followers returns the users following userID.
func (c *Client) Followers(ctx context.Context, userID string) ([]domain.Peer, error) {
	var peers []domain.Peer
	err := c.get(ctx, fmt.Sprintf("/users/%s/followers", url.PathEscape(userID)), &peers)
	if err != nil {
		return nil, err
	}
	return peers, nil
}

// Conversation returns the full message history between two users, ordered
// ascending by sent time.
func (c *Client) Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	var msgs []domain.Message
	path := fmt.Sprintf("/messages/conversation/%s/%s", url.PathEscape(userA), url.PathEscape(userB))
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UnreadCounts returns the per-sender unread counters for userID.
func (c *Client) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
	counts := make(map[string]int64)
	path := fmt.Sprintf("/messages/unread-counts/%s", url.PathEscape(userID))
	if err := c.get(ctx, path, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// MarkConversationRead marks every message from senderID to receiverID as read.
func (c *Client) MarkConversationRead(ctx context.Context, senderID, receiverID string) error {
	body := map[string]string{
		"sender_id":   senderID,
		"receiver_id": receiverID,
	}
	return c.post(ctx, "/messages/mark-as-read", body, nil)
}

// envelope mirrors pkg/response.Response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.tokens.BearerToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		msg := "request failed"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return fmt.Errorf("%s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}
