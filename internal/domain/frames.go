package domain

// WebSocket frame types from client.
const (
	FrameAuth        = "auth"
	FrameChatMessage = "chat_message"
	FramePing        = "ping"
)

// WebSocket frame types to client.
const (
	FrameAuthResult   = "auth_result"
	FrameMessage      = "message"
	FrameReceipt      = "receipt"
	FrameUnreadCounts = "unread_counts"
	FrameUnreadDelta  = "unread_delta"
	FrameError        = "error"
	FramePong         = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseFrame is the envelope every WebSocket frame starts with.
type BaseFrame struct {
	Type string `json:"type"`
}

// Client -> Server frames

type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type ChatMessageFrame struct {
	Type        string `json:"type"`
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	ClientToken string `json:"client_token"`
}

// Server -> Client frames

type AuthResultFrame struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type MessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// ReceiptFrame confirms that a previously sent message has been persisted
// (status sent, MessageID assigned) or read by the peer (status read).
type ReceiptFrame struct {
	Type        string        `json:"type"`
	ClientToken string        `json:"client_token,omitempty"`
	MessageID   string        `json:"message_id"`
	Status      MessageStatus `json:"status"`
	SentAt      int64         `json:"sent_at,omitempty"` // unix millis
}

// UnreadCountsFrame is a full per-peer counter snapshot for the receiving user.
type UnreadCountsFrame struct {
	Type   string           `json:"type"`
	Counts map[string]int64 `json:"counts"`
}

// UnreadDeltaFrame is a single-peer counter adjustment.
type UnreadDeltaFrame struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
	Delta  int64  `json:"delta"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{
		Type:    FrameError,
		Code:    code,
		Message: message,
	}
}
