package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches internal/server/handler auth keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Chat
	FieldPeerID      = "peer_id"
	FieldMessageID   = "message_id"
	FieldClientToken = "client_token"
	FieldConnState   = "conn_state"

	// Service
	FieldService = "service"
)
