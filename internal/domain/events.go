package domain

// WebSocket message types to client.
const (
	MsgTypeMessageCreated = "message_created"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
)

// WebSocket message types from client.
const (
	MsgTypePing = "ping"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// MessageCreatedEvent is pushed to both participants whenever the store
// confirms persistence of a message.
type MessageCreatedEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// NewMessageCreatedEvent wraps a persisted message for the wire.
func NewMessageCreatedEvent(msg Message) *MessageCreatedEvent {
	return &MessageCreatedEvent{Type: MsgTypeMessageCreated, Message: msg}
}

// ErrorEvent reports a channel-level error to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent creates an error event.
func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: MsgTypeError, Code: code, Message: message}
}
