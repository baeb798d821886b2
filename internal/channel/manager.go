// Package channel owns the persistent bidirectional connection to the
// messaging backend: one connection per identified session, automatic
// reconnection with fixed backoff, and in-order event delivery.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/pkg/log"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

var (
	// ErrNotConnected is returned by Send when no established connection
	// exists. The caller keeps the message pending; there is no silent retry.
	ErrNotConnected = errors.New("channel not connected")

	errAuthRejected = errors.New("channel auth rejected")
)

// TokenSource provides the bearer credential for the auth handshake.
type TokenSource interface {
	BearerToken() string
}

// EventHandler receives channel events. Calls are made from a single
// goroutine in the order the server sent them; no event fires after Close.
type EventHandler interface {
	OnConnectionState(s State)
	OnMessage(msg domain.Message)
	OnReceipt(r domain.ReceiptFrame)
	OnUnreadSnapshot(counts map[string]int64)
	OnUnreadDelta(peerID string, delta int64)
}

// Manager maintains the live channel for one identified user. A new identity
// means a new Manager; the old one is closed first.
type Manager struct {
	cfg     config.ChannelConfig
	userID  string
	tokens  TokenSource
	handler EventHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	sendCh  chan []byte
	started bool
	closed  bool
}

func NewManager(cfg config.ChannelConfig, userID string, tokens TokenSource, handler EventHandler) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		userID:  userID,
		tokens:  tokens,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateDisconnected,
	}
}

// Start launches the connection loop. Calling Start twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send publishes an outgoing message over the established connection.
func (m *Manager) Send(receiverID, content, clientToken string) error {
	frame := domain.ChatMessageFrame{
		Type:        domain.FrameChatMessage,
		ReceiverID:  receiverID,
		Content:     content,
		ClientToken: clientToken,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.sendCh == nil {
		return ErrNotConnected
	}
	select {
	case m.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full: %w", ErrNotConnected)
	}
}

// Close tears the connection down unconditionally. After Close returns no
// further handler callbacks fire.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = StateDisconnected
	conn := m.conn
	started := m.started
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		conn.Close()
	}
	if started {
		<-m.done
	}
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		if m.ctx.Err() != nil {
			return
		}
		m.setState(StateConnecting)

		conn, err := m.connect()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			log.L().Warn().Err(err).Str(log.FieldUserID, m.userID).Msg("channel connect failed")
			m.setState(StateError)
			if !m.backoff() {
				return
			}
			continue
		}

		sendCh := make(chan []byte, 256)
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.sendCh = sendCh
		m.mu.Unlock()

		writerDone := make(chan struct{})
		go m.writePump(conn, sendCh, writerDone)

		m.setState(StateConnected)
		m.readPump(conn)

		m.mu.Lock()
		m.conn = nil
		m.sendCh = nil
		m.mu.Unlock()
		conn.Close()
		<-writerDone

		if m.ctx.Err() != nil {
			return
		}
		log.L().Info().Str(log.FieldUserID, m.userID).Msg("channel dropped, reconnecting")
		m.setState(StateError)
		if !m.backoff() {
			return
		}
	}
}

// connect dials the backend and completes the auth handshake within the
// configured connect timeout. A connection that cannot authenticate in time
// is treated as failed; no indefinite hang state is permitted.
func (m *Manager) connect() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, m.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	deadline := time.Now().Add(m.cfg.ConnectTimeout)
	conn.SetWriteDeadline(deadline)
	auth := domain.AuthFrame{Type: domain.FrameAuth, Token: m.tokens.BearerToken()}
	if err := conn.WriteJSON(&auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth frame: %w", err)
	}

	conn.SetReadDeadline(deadline)
	var result domain.AuthResultFrame
	if err := conn.ReadJSON(&result); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth result: %w", err)
	}
	if !result.Success {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", errAuthRejected, result.Message)
	}

	conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

func (m *Manager) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(m.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && m.ctx.Err() == nil {
				log.L().Debug().Err(err).Msg("channel read error")
			}
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, sendCh chan []byte, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case data, ok := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// dispatch decodes a frame and hands it to the event handler. The closed
// check makes teardown unconditional: once Close has run, nothing fires.
func (m *Manager) dispatch(data []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	var base domain.BaseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		log.L().Debug().Err(err).Msg("discarding malformed frame")
		return
	}

	switch base.Type {
	case domain.FrameMessage:
		var frame domain.MessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		m.handler.OnMessage(frame.Message)

	case domain.FrameReceipt:
		var frame domain.ReceiptFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		m.handler.OnReceipt(frame)

	case domain.FrameUnreadCounts:
		var frame domain.UnreadCountsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		m.handler.OnUnreadSnapshot(frame.Counts)

	case domain.FrameUnreadDelta:
		var frame domain.UnreadDeltaFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		m.handler.OnUnreadDelta(frame.PeerID, frame.Delta)

	case domain.FrameError:
		var frame domain.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		log.L().Warn().Str("code", frame.Code).Str("detail", frame.Message).Msg("channel error frame")

	case domain.FramePong:
		// Keepalive response, nothing to do.

	default:
		log.L().Debug().Str("frame_type", base.Type).Msg("unknown frame type")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.closed || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	log.L().Debug().Str(log.FieldConnState, s.String()).Msg("channel state changed")
	m.handler.OnConnectionState(s)
}

// backoff waits out the reconnect interval. Returns false when the manager
// was closed while waiting.
func (m *Manager) backoff() bool {
	select {
	case <-time.After(m.cfg.ReconnectBackoff):
		return true
	case <-m.ctx.Done():
		return false
	}
}
