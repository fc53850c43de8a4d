package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/auth context keys)
	FieldUserID = "user_id"

	// Messaging
	FieldMessageID       = "message_id"
	FieldConversationKey = "conversation_key"
	FieldCounterparty    = "counterparty_id"

	// Service
	FieldService = "service"
)
