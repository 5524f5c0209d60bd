package ws

type EventType string

// Outbound events (server -> client).
const (
	EventGetOnlineUsers    EventType = "getOnlineUsers"
	EventUserTyping        EventType = "userTyping"
	EventTypingUsers       EventType = "typingUsers"
	EventNewMessage        EventType = "newMessage"
	EventUnreadCountUpdate EventType = "unreadCountUpdate"
	EventError             EventType = "error"
)

// Inbound events (client -> server).
const (
	EventTyping EventType = "typing"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type       EventType `json:"type"`
	ReceiverID string    `json:"receiverId,omitempty"`
	IsTyping   bool      `json:"isTyping,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// UserTypingPayload goes point-to-point to the typing user's counterpart.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UnreadCountPayload carries the authoritative unread count of messages from From.
type UnreadCountPayload struct {
	From  string `json:"from"`
	Count int    `json:"count"`
}

// NewUnreadCount builds an unreadCountUpdate event.
func NewUnreadCount(from string, count int) OutgoingMessage {
	return OutgoingMessage{Type: EventUnreadCountUpdate, Payload: UnreadCountPayload{From: from, Count: count}}
}
