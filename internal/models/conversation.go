package models

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one immutable entry of a conversation log.
type Message struct {
	Role      MessageRole `json:"role" bson:"role"`
	Content   string      `json:"content" bson:"content"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
}

// Conversation is the message log between one user and one persona.
type Conversation struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	UserID       string    `json:"userId" bson:"user_id"`
	PersonaID    string    `json:"personaId" bson:"persona_id"`
	Messages     []Message `json:"messages" bson:"messages"`
	MessageCount int       `json:"messageCount" bson:"message_count"`
	CreatedAt    time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updated_at"`
}

// LastMessage returns the newest message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
