package assistant

import (
	"strings"

	"github.com/qqmikey/datachat/pkg/model"
)

const (
	helpMessage = "I can help with project data questions. " +
		"Please phrase your request as a metric or data query, for example: " +
		`"How many new users registered in the last 7 days?"`

	errorMessage = "I could not complete this query after multiple attempts. " +
		"Please try rephrasing the request."
)

// outOfScopeResponse builds the message and data payload for OUT_OF_SCOPE
// and GENERAL_HELP turns.
func outOfScopeResponse(label model.IntentLabel, candidates []string) (string, map[string]any) {
	if label == model.IntentGeneralHelp {
		return helpMessage, map[string]any{
			"how_to_rephrase": "Specify what to count or list, and for which time period.",
		}
	}
	if len(candidates) > 0 {
		short := candidates
		if len(short) > 3 {
			short = short[:3]
		}
		msg := "I could not confidently map this question to project data scope. " +
			"Possible related entity types: " + strings.Join(short, ", ") + ". " +
			"Please clarify which one your question is about."
		return msg, map[string]any{
			"how_to_rephrase":        "Specify entity, time period, and metric.",
			"candidate_entity_types": short,
		}
	}
	msg := "I cannot map this request to the current project entity types. " +
		"Please clarify the entity, period, and metric."
	return msg, map[string]any{
		"how_to_rephrase": `Example: "Show payment count by day for the last 30 days".`,
	}
}

func baseMeta(conv *model.Conversation, decision *model.IntentDecision, traceID string) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		ConversationID:       conv.ID,
		IntentLabel:          decision.Label,
		IntentConfidence:     decision.Confidence,
		TraceID:              traceID,
		CandidateEntityTypes: decision.Candidates,
	}
}
