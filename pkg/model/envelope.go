package model

// ResponseType keys the four envelope shapes the turn entry point returns.
type ResponseType string

const (
	ResponseAnswer        ResponseType = "answer"
	ResponseClarification ResponseType = "clarification"
	ResponseOutOfScope    ResponseType = "out_of_scope"
	ResponseError         ResponseType = "error"
)

// EnvelopeMeta is attached to every envelope regardless of outcome.
type EnvelopeMeta struct {
	ConversationID         ConversationID `json:"conversation_id"`
	IntentLabel            IntentLabel    `json:"intent_label"`
	IntentConfidence       float64        `json:"intent_confidence"`
	TraceID                string         `json:"trace_id"`
	CandidateEntityTypes   []string       `json:"candidate_entity_types"`
	Interpretation         string         `json:"interpretation,omitempty"`
	PendingClarificationID string         `json:"pending_clarification_id,omitempty"`
}

// Envelope is the fixed response shape returned for every turn outcome.
// Failures of the pipeline are envelopes too, never raised errors.
type Envelope struct {
	Type    ResponseType   `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Meta    EnvelopeMeta   `json:"meta"`
}

// NewEnvelope builds an envelope with a non-nil data map.
func NewEnvelope(t ResponseType, message string, data map[string]any, meta EnvelopeMeta) *Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return &Envelope{Type: t, Message: message, Data: data, Meta: meta}
}
