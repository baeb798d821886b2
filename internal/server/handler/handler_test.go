package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/internal/server/hub"
	"github.com/Alicia-74/libroredsocial/internal/server/service"
	"github.com/Alicia-74/libroredsocial/internal/server/store"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

func newTestServer(t *testing.T) (*httptest.Server, *token.Manager, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	tokens := token.NewManager("test-secret", time.Hour, "test")

	wsHub := hub.NewHub()
	go wsHub.Run()

	svc := service.New(wsHub, st, tokens)
	channelCfg := config.ChannelConfig{
		ConnectTimeout: 2 * time.Second,
		PingInterval:   time.Second,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}

	engine := gin.New()
	NewHTTPHandler(st, svc, tokens).RegisterRoutes(engine)
	engine.GET("/chat/ws", NewWSHandler(wsHub, svc, channelCfg).HandleWebSocket)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, tokens, st
}

func issueToken(t *testing.T, srv *httptest.Server, userID, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID, "username": username})
	resp, err := http.Post(srv.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NotEmpty(t, env.Data.Token)
	return env.Data.Token
}

func doJSON(t *testing.T, method, url, tok string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// dialChannel connects, authenticates and consumes the auth result plus the
// initial unread snapshot.
func dialChannel(t *testing.T, srv *httptest.Server, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(&domain.AuthFrame{Type: domain.FrameAuth, Token: tok}))

	var result domain.AuthResultFrame
	require.NoError(t, readFrameAs(t, conn, domain.FrameAuthResult, &result))
	require.True(t, result.Success)

	var snapshot domain.UnreadCountsFrame
	require.NoError(t, readFrameAs(t, conn, domain.FrameUnreadCounts, &snapshot))
	return conn
}

// readFrameAs reads frames until one of the wanted type arrives.
func readFrameAs(t *testing.T, conn *websocket.Conn, wantType string, out interface{}) error {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for %s frame: %w", wantType, err)
		}
		var base domain.BaseFrame
		if err := json.Unmarshal(data, &base); err != nil {
			return err
		}
		if base.Type != wantType {
			continue
		}
		return json.Unmarshal(data, out)
	}
}

func TestRESTFollowAndPeerLists(t *testing.T) {
	srv, _, _ := newTestServer(t)
	aliceTok := issueToken(t, srv, "alice", "Alice")
	issueToken(t, srv, "bob", "Bob")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/users/alice/follow", aliceTok,
		map[string]string{"followee_id": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/users/alice/following", aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env struct {
		Data []domain.Peer `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	require.Len(t, env.Data, 1)
	assert.Equal(t, "bob", env.Data[0].ID)
	assert.Equal(t, "Bob", env.Data[0].Username)
}

func TestRESTRejectsCrossUserAccess(t *testing.T) {
	srv, _, _ := newTestServer(t)
	aliceTok := issueToken(t, srv, "alice", "Alice")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/users/bob/follow", aliceTok,
		map[string]string{"followee_id": "carol"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/messages/unread-counts/bob", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/users/alice/following", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRESTConversationRequiresParticipant(t *testing.T) {
	srv, _, _ := newTestServer(t)
	carolTok := issueToken(t, srv, "carol", "Carol")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/messages/conversation/alice/bob", carolTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestChannelSendDeliversToBothSides(t *testing.T) {
	srv, _, _ := newTestServer(t)
	aliceTok := issueToken(t, srv, "alice", "Alice")
	bobTok := issueToken(t, srv, "bob", "Bob")

	aliceConn := dialChannel(t, srv, aliceTok)
	bobConn := dialChannel(t, srv, bobTok)

	require.NoError(t, aliceConn.WriteJSON(&domain.ChatMessageFrame{
		Type:        domain.FrameChatMessage,
		ReceiverID:  "bob",
		Content:     "hola bob",
		ClientToken: "ct-1",
	}))

	// Sender gets a persist receipt carrying the client token.
	var receipt domain.ReceiptFrame
	require.NoError(t, readFrameAs(t, aliceConn, domain.FrameReceipt, &receipt))
	assert.Equal(t, "ct-1", receipt.ClientToken)
	assert.Equal(t, domain.StatusSent, receipt.Status)
	assert.NotEmpty(t, receipt.MessageID)
	assert.Greater(t, receipt.SentAt, int64(0))

	// Both sides get the confirmed message.
	var aliceMsg domain.MessageFrame
	require.NoError(t, readFrameAs(t, aliceConn, domain.FrameMessage, &aliceMsg))
	assert.Equal(t, "hola bob", aliceMsg.Message.Content)
	assert.Equal(t, receipt.MessageID, aliceMsg.Message.ID)

	var bobMsg domain.MessageFrame
	require.NoError(t, readFrameAs(t, bobConn, domain.FrameMessage, &bobMsg))
	assert.Equal(t, "alice", bobMsg.Message.SenderID)
	assert.Equal(t, "ct-1", bobMsg.Message.ClientToken)

	// Receiver gets a fresh unread snapshot.
	var snapshot domain.UnreadCountsFrame
	require.NoError(t, readFrameAs(t, bobConn, domain.FrameUnreadCounts, &snapshot))
	assert.Equal(t, int64(1), snapshot.Counts["alice"])
}

func TestMarkAsReadPushesReadReceiptToSender(t *testing.T) {
	srv, _, _ := newTestServer(t)
	aliceTok := issueToken(t, srv, "alice", "Alice")
	bobTok := issueToken(t, srv, "bob", "Bob")

	aliceConn := dialChannel(t, srv, aliceTok)

	require.NoError(t, aliceConn.WriteJSON(&domain.ChatMessageFrame{
		Type:        domain.FrameChatMessage,
		ReceiverID:  "bob",
		Content:     "read me",
		ClientToken: "ct-2",
	}))

	var receipt domain.ReceiptFrame
	require.NoError(t, readFrameAs(t, aliceConn, domain.FrameReceipt, &receipt))
	require.Equal(t, domain.StatusSent, receipt.Status)

	// Bob marks the conversation read over REST.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/messages/mark-as-read", bobTok,
		map[string]string{"sender_id": "alice", "receiver_id": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var readReceipt domain.ReceiptFrame
	require.NoError(t, readFrameAs(t, aliceConn, domain.FrameReceipt, &readReceipt))
	assert.Equal(t, domain.StatusRead, readReceipt.Status)
	assert.Equal(t, receipt.MessageID, readReceipt.MessageID)
}

func TestChannelRejectsUnauthenticatedChat(t *testing.T) {
	srv, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(&domain.ChatMessageFrame{
		Type:       domain.FrameChatMessage,
		ReceiverID: "bob",
		Content:    "should fail",
	}))

	var errFrame domain.ErrorFrame
	require.NoError(t, readFrameAs(t, conn, domain.FrameError, &errFrame))
	assert.Equal(t, domain.ErrCodeUnauthorized, errFrame.Code)
}

func TestChannelRejectsBadAuthToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(&domain.AuthFrame{Type: domain.FrameAuth, Token: "garbage"}))

	var result domain.AuthResultFrame
	require.NoError(t, readFrameAs(t, conn, domain.FrameAuthResult, &result))
	assert.False(t, result.Success)
}

func TestChannelPingPong(t *testing.T) {
	srv, _, _ := newTestServer(t)
	tok := issueToken(t, srv, "alice", "Alice")
	conn := dialChannel(t, srv, tok)

	require.NoError(t, conn.WriteJSON(&domain.BaseFrame{Type: domain.FramePing}))

	var pong domain.BaseFrame
	require.NoError(t, readFrameAs(t, conn, domain.FramePong, &pong))
}
