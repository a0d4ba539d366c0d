// Package planner turns an intent decision into a deterministic query plan.
// Planning is pure: no LLM, no storage, no clock.
package planner

import (
	"strings"

	"github.com/qqmikey/datachat/pkg/model"
)

const maxFocusEntities = 3

// Build assembles the plan handed to the code generator: up to three ranked
// candidate entity types, the current topic appended when it adds a new
// entity, and a one-line interpretation of the question.
func Build(question string, decision *model.IntentDecision, convCtx *model.Context) *model.QueryPlan {
	question = strings.TrimSpace(question)

	focus := make([]string, 0, maxFocusEntities+1)
	for _, key := range decision.Candidates {
		focus = append(focus, key)
		if len(focus) >= maxFocusEntities {
			break
		}
	}

	var summary, topic string
	if convCtx != nil {
		summary = strings.TrimSpace(convCtx.Summary)
		topic = strings.TrimSpace(convCtx.Topic)
	}
	if topic != "" && !containsString(focus, topic) {
		focus = append(focus, topic)
	}

	interpretation := question
	if len(focus) > 0 {
		interpretation = "Query focus: " + strings.Join(focus, ", ") + ". Question: " + question
	}

	return &model.QueryPlan{
		Question:       question,
		FocusEntities:  focus,
		Interpretation: interpretation,
		ContextSummary: summary,
	}
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
