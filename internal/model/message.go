package model

import "time"

// Message is a persisted direct message. At least one of Text and ImageURL is set.
// IsRead only ever moves from false to true.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	IsRead     bool      `json:"isRead"`
}

// HasContent reports whether the message carries text or an image.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.ImageURL != ""
}

// Conversation is the unordered pair of users exchanging messages.
// Key is symmetric: Conversation{A, B}.Key() == Conversation{B, A}.Key().
type Conversation struct {
	A string
	B string
}

func (c Conversation) Key() string {
	if c.A < c.B {
		return c.A + ":" + c.B
	}
	return c.B + ":" + c.A
}

// Includes reports whether m belongs to the conversation, in either direction.
func (c Conversation) Includes(m *Message) bool {
	return (m.SenderID == c.A && m.ReceiverID == c.B) || (m.SenderID == c.B && m.ReceiverID == c.A)
}

// Epoch is the sort key for contacts without messages.
var Epoch = time.Unix(0, 0).UTC()
