package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/domain"
)

type staticTokens string

func (s staticTokens) BearerToken() string { return string(s) }

type event struct {
	kind  string
	state State
	msg   domain.Message
}

type recordingHandler struct {
	mu     sync.Mutex
	events []event
	notify chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{notify: make(chan struct{}, 64)}
}

func (h *recordingHandler) record(e event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) OnConnectionState(s State) {
	h.record(event{kind: "state", state: s})
}

func (h *recordingHandler) OnMessage(msg domain.Message) {
	h.record(event{kind: "message", msg: msg})
}

func (h *recordingHandler) OnReceipt(r domain.ReceiptFrame) {
	h.record(event{kind: "receipt"})
}

func (h *recordingHandler) OnUnreadSnapshot(counts map[string]int64) {
	h.record(event{kind: "snapshot"})
}

func (h *recordingHandler) OnUnreadDelta(peerID string, delta int64) {
	h.record(event{kind: "delta"})
}

func (h *recordingHandler) snapshot() []event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandler) waitFor(t *testing.T, pred func([]event) bool) []event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if evts := h.snapshot(); pred(evts) {
			return evts
		}
		select {
		case <-h.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", h.snapshot())
		}
	}
}

func testConfig(url string) config.ChannelConfig {
	return config.ChannelConfig{
		URL:              url,
		ConnectTimeout:   2 * time.Second,
		ReconnectBackoff: 50 * time.Millisecond,
		PingInterval:     time.Second,
		PongWait:         5 * time.Second,
		WriteWait:        time.Second,
		MaxMessageSize:   4096,
	}
}

// chatServer accepts one connection, checks the auth frame and runs serve.
func chatServer(t *testing.T, acceptAuth bool, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth domain.AuthFrame
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		result := domain.AuthResultFrame{Type: domain.FrameAuthResult, Success: acceptAuth}
		if acceptAuth {
			result.UserID = "alice"
		} else {
			result.Message = "invalid credential"
		}
		if err := conn.WriteJSON(&result); err != nil {
			return
		}
		if acceptAuth && serve != nil {
			serve(conn)
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendBeforeConnectReturnsNotConnected(t *testing.T) {
	m := NewManager(testConfig("ws://127.0.0.1:0/none"), "alice", staticTokens("tok"), newRecordingHandler())
	defer m.Close()

	err := m.Send("bob", "hello", "token-1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseWithoutStartReturnsImmediately(t *testing.T) {
	m := NewManager(testConfig("ws://127.0.0.1:0/none"), "alice", staticTokens("tok"), newRecordingHandler())

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked without Start")
	}
}

func TestConnectsAuthenticatesAndDispatchesInOrder(t *testing.T) {
	hold := make(chan struct{})
	srv := chatServer(t, true, func(conn *websocket.Conn) {
		conn.WriteJSON(&domain.MessageFrame{
			Type: domain.FrameMessage,
			Message: domain.Message{
				ID: "1", SenderID: "bob", ReceiverID: "alice",
				Content: "hi", SentAt: time.Now(), Status: domain.StatusSent,
			},
		})
		conn.WriteJSON(&domain.ReceiptFrame{Type: domain.FrameReceipt, MessageID: "1", Status: domain.StatusRead})
		conn.WriteJSON(&domain.UnreadCountsFrame{Type: domain.FrameUnreadCounts, Counts: map[string]int64{"bob": 1}})
		<-hold
	})
	defer srv.Close()
	defer close(hold)

	handler := newRecordingHandler()
	m := NewManager(testConfig(wsURL(srv)), "alice", staticTokens("tok"), handler)
	m.Start()
	defer m.Close()

	evts := handler.waitFor(t, func(evts []event) bool { return len(evts) >= 5 })

	require.GreaterOrEqual(t, len(evts), 5)
	assert.Equal(t, "state", evts[0].kind)
	assert.Equal(t, StateConnecting, evts[0].state)
	assert.Equal(t, "state", evts[1].kind)
	assert.Equal(t, StateConnected, evts[1].state)
	assert.Equal(t, "message", evts[2].kind)
	assert.Equal(t, "hi", evts[2].msg.Content)
	assert.Equal(t, "receipt", evts[3].kind)
	assert.Equal(t, "snapshot", evts[4].kind)
	assert.Equal(t, StateConnected, m.State())
}

func TestSendDeliversChatFrame(t *testing.T) {
	received := make(chan domain.ChatMessageFrame, 1)
	srv := chatServer(t, true, func(conn *websocket.Conn) {
		var frame domain.ChatMessageFrame
		if err := conn.ReadJSON(&frame); err == nil {
			received <- frame
		}
	})
	defer srv.Close()

	handler := newRecordingHandler()
	m := NewManager(testConfig(wsURL(srv)), "alice", staticTokens("tok"), handler)
	m.Start()
	defer m.Close()

	handler.waitFor(t, func(evts []event) bool {
		for _, e := range evts {
			if e.kind == "state" && e.state == StateConnected {
				return true
			}
		}
		return false
	})

	require.NoError(t, m.Send("bob", "hello there", "tok-abc"))

	select {
	case frame := <-received:
		assert.Equal(t, domain.FrameChatMessage, frame.Type)
		assert.Equal(t, "bob", frame.ReceiverID)
		assert.Equal(t, "hello there", frame.Content)
		assert.Equal(t, "tok-abc", frame.ClientToken)
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the chat frame")
	}
}

func TestAuthRejectionEntersErrorState(t *testing.T) {
	srv := chatServer(t, false, nil)
	defer srv.Close()

	handler := newRecordingHandler()
	m := NewManager(testConfig(wsURL(srv)), "alice", staticTokens("bad"), handler)
	m.Start()
	defer m.Close()

	handler.waitFor(t, func(evts []event) bool {
		for _, e := range evts {
			if e.kind == "state" && e.state == StateError {
				return true
			}
		}
		return false
	})

	assert.ErrorIs(t, m.Send("bob", "nope", "tok"), ErrNotConnected)
}

func TestNoEventsAfterClose(t *testing.T) {
	hold := make(chan struct{})
	srv := chatServer(t, true, func(conn *websocket.Conn) { <-hold })
	defer srv.Close()
	defer close(hold)

	handler := newRecordingHandler()
	m := NewManager(testConfig(wsURL(srv)), "alice", staticTokens("tok"), handler)
	m.Start()

	handler.waitFor(t, func(evts []event) bool {
		for _, e := range evts {
			if e.kind == "state" && e.state == StateConnected {
				return true
			}
		}
		return false
	})

	m.Close()
	n := len(handler.snapshot())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, len(handler.snapshot()))
	assert.Equal(t, StateDisconnected, m.State())
}
