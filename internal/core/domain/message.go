package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one archived turn of a conversation. Seq is the position of the
// message inside its conversation, assigned once at insert. Version starts at
// 1 and is bumped only when content actually changes.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Embedding is the indexed vector for one (message, model) pair.
type Embedding struct {
	MessageID string    `json:"message_id"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StaleFor reports whether the embedding predates the message content it was
// computed from and therefore needs re-indexing.
func (e Embedding) StaleFor(msg Message) bool {
	return e.UpdatedAt.Before(msg.UpdatedAt)
}
