// Package chat wires the session resolver, REST client, conversation
// directory, live channel and conversation view into one client-facing
// object. It owns event routing: an inbound message lands in the open
// conversation's view or in the directory's unread counters, never both.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Alicia-74/libroredsocial/internal/api"
	"github.com/Alicia-74/libroredsocial/internal/channel"
	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/conversation"
	"github.com/Alicia-74/libroredsocial/internal/directory"
	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/internal/session"
	"github.com/Alicia-74/libroredsocial/pkg/log"
)

// ErrUnauthenticated means the session resolved to anonymous. Callers
// surface it as a redirect-to-login condition, not an inline error.
var ErrUnauthenticated = errors.New("not authenticated")

// maxSeenIDs caps the duplicate-delivery set. Duplicates arrive close to the
// original, so remembering the most recent ids is enough.
const maxSeenIDs = 1024

// Client is the chat core for one user session.
type Client struct {
	cfg      *config.Config
	resolver *session.Resolver
	api      *api.Client

	mu        sync.Mutex
	selfID    string
	dir       *directory.Directory
	view      *conversation.View
	ch        *channel.Manager
	seenIDs   map[string]struct{} // message ids already counted, for duplicate delivery
	seenOrder []string            // eviction order for seenIDs, oldest first

	pollCancel context.CancelFunc
	updates    chan struct{}
}

func New(cfg *config.Config, creds session.CredentialStore) *Client {
	resolver := session.NewResolver(creds)
	return &Client{
		cfg:      cfg,
		resolver: resolver,
		api:      api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, resolver),
		seenIDs:  make(map[string]struct{}),
		updates:  make(chan struct{}, 1),
	}
}

// Start resolves the session identity and, for an identified user, loads the
// peer directory and opens the live channel. Directory load failures are
// recoverable and do not abort startup.
func (c *Client) Start(ctx context.Context) error {
	id := c.resolver.Resolve()
	if !id.Known() {
		return ErrUnauthenticated
	}
	return c.startForIdentity(ctx, id.UserID)
}

func (c *Client) startForIdentity(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.selfID = userID
	c.dir = directory.New(c.api, userID)
	c.view = conversation.NewView(userID)
	c.seenIDs = make(map[string]struct{})
	c.seenOrder = nil
	c.ch = channel.NewManager(c.cfg.Channel, userID, c.resolver, c)
	dir := c.dir
	ch := c.ch
	c.mu.Unlock()

	if _, err := dir.LoadPeers(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("load peers: %w", ErrUnauthenticated)
		}
		log.L().Warn().Err(err).Msg("peer list unavailable, starting with empty directory")
	}
	if err := dir.RefreshUnread(ctx); err != nil {
		log.L().Warn().Err(err).Msg("unread counts unavailable at startup")
	}

	ch.Start()

	pollCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.pollCancel = cancel
	c.mu.Unlock()
	go c.reconcileLoop(pollCtx)

	c.signal()
	return nil
}

// Stop tears down the live channel and the reconciliation poll.
func (c *Client) Stop() {
	c.mu.Lock()
	ch := c.ch
	cancel := c.pollCancel
	c.ch = nil
	c.pollCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
}

// RefreshIdentity re-resolves the credential. An identity change tears down
// the current channel; a new identified user gets a fresh one. Exactly one
// live connection exists per non-null identity at any time.
func (c *Client) RefreshIdentity(ctx context.Context) error {
	id := c.resolver.Resolve()

	c.mu.Lock()
	same := id.Known() && id.UserID == c.selfID && c.ch != nil
	c.mu.Unlock()
	if same {
		return nil
	}

	c.Stop()
	if !id.Known() {
		c.mu.Lock()
		c.selfID = ""
		c.mu.Unlock()
		return ErrUnauthenticated
	}
	return c.startForIdentity(ctx, id.UserID)
}

// Logout clears the credential and tears everything down.
func (c *Client) Logout() {
	c.resolver.ClearCredential()
	c.Stop()
	c.mu.Lock()
	c.selfID = ""
	c.mu.Unlock()
	c.signal()
}

// UserID returns the identified user, or "" when not started.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// ConnectionState reports the live channel state for the status indicator.
func (c *Client) ConnectionState() channel.State {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return channel.StateDisconnected
	}
	return ch.State()
}

// CanSend reports whether the composer should be enabled.
func (c *Client) CanSend() bool {
	return c.ConnectionState() == channel.StateConnected && c.ActivePeer() != ""
}

// Peers returns the directory's ordered peer list.
func (c *Client) Peers() []domain.Peer {
	if d := c.directory(); d != nil {
		return d.Peers()
	}
	return nil
}

// UnreadCounts returns the per-peer badge counters.
func (c *Client) UnreadCounts() map[string]int64 {
	if d := c.directory(); d != nil {
		return d.UnreadCounts()
	}
	return nil
}

// ActivePeer returns the open conversation's peer id, or "".
func (c *Client) ActivePeer() string {
	if v := c.conversationView(); v != nil {
		return v.ActivePeer()
	}
	return ""
}

// Messages returns the open conversation's ordered message sequence.
func (c *Client) Messages() []domain.Message {
	if v := c.conversationView(); v != nil {
		return v.Messages()
	}
	return nil
}

// OpenConversation opens the conversation with peerID: fetch history, merge
// it behind the stale guard, then mark the conversation read. A history
// failure leaves the view empty and is returned as a recoverable error; the
// user may still compose and send.
func (c *Client) OpenConversation(ctx context.Context, peerID string) error {
	v := c.conversationView()
	d := c.directory()
	if v == nil || d == nil {
		return ErrUnauthenticated
	}

	v.Open(peerID)
	c.signal()

	history, err := c.api.Conversation(ctx, c.UserID(), peerID)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("conversation history: %w", ErrUnauthenticated)
		}
		return fmt.Errorf("conversation history unavailable: %w", err)
	}
	v.ApplyHistory(peerID, history)

	if err := d.MarkRead(ctx, peerID); err != nil {
		log.L().Warn().Err(err).Str(log.FieldPeerID, peerID).Msg("mark-as-read on open failed")
	}
	c.signal()
	return nil
}

// CloseConversation clears the active peer. Later inbound messages go to the
// directory's counters only.
func (c *Client) CloseConversation() {
	if v := c.conversationView(); v != nil {
		v.Close()
		c.signal()
	}
}

// Send validates, appends an optimistic pending message and publishes it.
// With no established connection the message stays pending and the error is
// returned for a user-visible retry; there is no silent resend.
func (c *Client) Send(content string) (domain.Message, error) {
	v := c.conversationView()
	if v == nil {
		return domain.Message{}, ErrUnauthenticated
	}

	msg, err := v.Send(content)
	if err != nil {
		return domain.Message{}, err
	}
	c.signal()

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return msg, channel.ErrNotConnected
	}
	if err := ch.Send(msg.ReceiverID, msg.Content, msg.ClientToken); err != nil {
		return msg, err
	}
	return msg, nil
}

// Updates returns a coalesced change signal for UI repaint.
func (c *Client) Updates() <-chan struct{} {
	return c.updates
}

// --- channel.EventHandler ---

func (c *Client) OnConnectionState(s channel.State) {
	log.L().Info().Str(log.FieldConnState, s.String()).Msg("connection state")
	c.signal()
}

// OnMessage routes an inbound message: into the view when it belongs to the
// open conversation, otherwise into the directory as preview and unread
// increment. Duplicate deliveries by id are counted once.
func (c *Client) OnMessage(msg domain.Message) {
	v := c.conversationView()
	d := c.directory()
	if v == nil || d == nil {
		return
	}

	if v.Accepts(&msg) {
		v.Apply(msg)
		if msg.SenderID != c.UserID() {
			// Viewer is looking at it; keep the server's counter in step.
			go c.markReadAsync(msg.SenderID)
		}
		c.signal()
		return
	}

	if msg.SenderID == c.UserID() {
		// Own message confirmed from another device; preview only.
		d.NoteMessage(msg.ReceiverID, msg.Content, &msg, false)
		c.signal()
		return
	}

	count := true
	if msg.ID != "" {
		c.mu.Lock()
		if _, dup := c.seenIDs[msg.ID]; dup {
			count = false
		} else {
			c.seenIDs[msg.ID] = struct{}{}
			c.seenOrder = append(c.seenOrder, msg.ID)
			if len(c.seenOrder) > maxSeenIDs {
				delete(c.seenIDs, c.seenOrder[0])
				c.seenOrder = c.seenOrder[1:]
			}
		}
		c.mu.Unlock()
	}
	d.NoteMessage(msg.SenderID, msg.Content, &msg, count)
	c.signal()
}

func (c *Client) OnReceipt(r domain.ReceiptFrame) {
	if v := c.conversationView(); v != nil {
		v.ApplyReceipt(r)
		c.signal()
	}
}

// OnUnreadSnapshot applies the authoritative counters. A non-zero counter
// for the conversation the viewer has open is immediately reconciled with a
// mark-as-read instead of a badge.
func (c *Client) OnUnreadSnapshot(counts map[string]int64) {
	d := c.directory()
	if d == nil {
		return
	}
	d.ApplySnapshot(counts)
	c.reconcileOpenPeer()
	c.signal()
}

func (c *Client) OnUnreadDelta(peerID string, delta int64) {
	d := c.directory()
	if d == nil {
		return
	}
	d.ApplyDelta(peerID, delta)
	c.reconcileOpenPeer()
	c.signal()
}

// --- internals ---

func (c *Client) directory() *directory.Directory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

func (c *Client) conversationView() *conversation.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Client) reconcileOpenPeer() {
	d := c.directory()
	active := c.ActivePeer()
	if d == nil || active == "" {
		return
	}
	if d.Unread(active) > 0 {
		go c.markReadAsync(active)
	}
}

func (c *Client) markReadAsync(peerID string) {
	d := c.directory()
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.API.Timeout)
	defer cancel()
	if err := d.MarkRead(ctx, peerID); err != nil {
		log.L().Debug().Err(err).Str(log.FieldPeerID, peerID).Msg("background mark-as-read failed")
	}
	c.signal()
}

// reconcileLoop is the safety net against missed channel events: a slow
// periodic refresh of the unread counters and the open conversation. Push
// delivery stays the primary update path.
func (c *Client) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Poll.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d := c.directory()
			if d == nil {
				continue
			}
			if err := d.RefreshUnread(ctx); err != nil && ctx.Err() == nil {
				log.L().Debug().Err(err).Msg("reconcile: unread refresh failed")
			}
			if active := c.ActivePeer(); active != "" {
				history, err := c.api.Conversation(ctx, c.UserID(), active)
				if err != nil {
					if ctx.Err() == nil {
						log.L().Debug().Err(err).Msg("reconcile: history refresh failed")
					}
					continue
				}
				if v := c.conversationView(); v != nil {
					v.ApplyHistory(active, history)
				}
			}
			c.signal()
		}
	}
}

func (c *Client) signal() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
