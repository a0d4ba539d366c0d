package model

// QueryPlan is the structured execution plan built from a routed question
// and the conversational context.
type QueryPlan struct {
	Question       string   `json:"question"`
	FocusEntities  []string `json:"focus_entity_types"`
	Interpretation string   `json:"interpretation"`
	ContextSummary string   `json:"context_summary"`
}
