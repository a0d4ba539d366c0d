package model

import (
	"time"

	"github.com/google/uuid"
)

type RecordID string

// NewRecordID generates a new unique RecordID
func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// ExecutionRecord is the append-only audit log entry written once per user
// turn, success or failure. It is the durable trace for debugging and
// analytics and is never mutated after creation.
type ExecutionRecord struct {
	ID               RecordID       `json:"id"`
	ConversationID   ConversationID `json:"conversation_id"`
	Owner            string         `json:"owner"`
	Route            IntentLabel    `json:"route"`
	Question         string         `json:"question"`
	Code             string         `json:"code"`
	QueryMeta        map[string]any `json:"query_meta,omitempty"`
	Duration         time.Duration  `json:"duration"`
	Rows             int            `json:"rows"`
	Truncated        bool           `json:"truncated"`
	Error            string         `json:"error"`
	IntentLabel      IntentLabel    `json:"intent_label"`
	IntentConfidence float64        `json:"intent_confidence"`
	CreatedAt        time.Time      `json:"created_at"`
}
