package model

// IntentLabel classifies what a user turn asks the assistant to do.
type IntentLabel string

const (
	IntentDataQuery     IntentLabel = "DATA_QUERY"
	IntentClarification IntentLabel = "CLARIFICATION"
	IntentOutOfScope    IntentLabel = "OUT_OF_SCOPE"
	IntentGeneralHelp   IntentLabel = "GENERAL_HELP"

	// IntentError is not a routing label; it marks a failed turn in the
	// rolling summary and the audit log.
	IntentError IntentLabel = "ERROR"
)

// ValidIntentLabel reports whether the label is one of the four routable
// intents.
func ValidIntentLabel(label IntentLabel) bool {
	switch label {
	case IntentDataQuery, IntentClarification, IntentOutOfScope, IntentGeneralHelp:
		return true
	default:
		return false
	}
}

// IntentDecision is the router's output for a single question. Every entity
// type in Candidates and Options is a key of the manifest snapshot used to
// build the decision.
type IntentDecision struct {
	Label                 IntentLabel           `json:"label"`
	Confidence            float64               `json:"confidence"`
	Reason                string                `json:"reason"`
	Candidates            []string              `json:"candidate_entity_types"`
	ClarificationQuestion string                `json:"clarification_question"`
	Options               []ClarificationOption `json:"options"`
	NormalizedQuery       string                `json:"normalized_query"`
}

// TopCandidate returns the highest ranked candidate entity type, or "".
func (d *IntentDecision) TopCandidate() string {
	if len(d.Candidates) == 0 {
		return ""
	}
	return d.Candidates[0]
}
