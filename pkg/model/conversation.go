package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// NewConversationID generates a new unique ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

type TurnID string

// NewTurnID generates a new unique TurnID
func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ClarificationOption is one selectable disambiguation choice offered to the
// user. EntityType is always a key of the manifest snapshot that produced it.
type ClarificationOption struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	EntityType string `json:"entity_type"`
}

// PendingClarification is the saved state of an unanswered disambiguation
// question. At most one is live per conversation; it is cleared exactly when
// a DATA_QUERY turn resolves successfully.
type PendingClarification struct {
	ID           string                `json:"id"`
	BaseQuestion string                `json:"base_question"`
	Options      []ClarificationOption `json:"options"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Conversation owns an ordered sequence of turns plus the mutable memory the
// orchestrator carries across turns: a bounded rolling summary, the current
// topic (last confidently identified entity type), and an optional pending
// clarification.
type Conversation struct {
	ID        ConversationID        `json:"id"`
	Owner     string                `json:"owner"`
	Title     string                `json:"title"`
	Summary   string                `json:"summary"`
	Topic     string                `json:"topic"`
	Pending   *PendingClarification `json:"pending,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Turn is one message within a conversation.
type Turn struct {
	ID             TurnID         `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Context is the bounded conversational context handed to the router and the
// code generator.
type Context struct {
	Summary string                `json:"summary"`
	Turns   []ContextTurn         `json:"turns"`
	Topic   string                `json:"current_topic"`
	Pending *PendingClarification `json:"pending_clarification,omitempty"`
}

// ContextTurn is a length-capped view of a stored turn.
type ContextTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
