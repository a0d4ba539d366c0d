package planner_test

import (
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/service/planner"
)

func TestBuild(t *testing.T) {
	decision := &model.IntentDecision{
		Label:      model.IntentDataQuery,
		Candidates: []string{"app.User", "app.Payment", "shop.Order", "shop.Invoice"},
	}

	plan := planner.Build("How many users signed up?", decision, nil)
	gt.V(t, plan.Question).Equal("How many users signed up?")
	gt.V(t, plan.FocusEntities).Equal([]string{"app.User", "app.Payment", "shop.Order"})
	gt.S(t, plan.Interpretation).Contains("Query focus: app.User, app.Payment, shop.Order.")
	gt.S(t, plan.Interpretation).Contains("Question: How many users signed up?")
}

func TestBuildAppendsTopic(t *testing.T) {
	decision := &model.IntentDecision{Candidates: []string{"app.User"}}
	ctx := &model.Context{Topic: "app.Payment", Summary: " recent payment questions "}

	plan := planner.Build("and last week?", decision, ctx)
	gt.V(t, plan.FocusEntities).Equal([]string{"app.User", "app.Payment"})
	gt.V(t, plan.ContextSummary).Equal("recent payment questions")
}

func TestBuildTopicAlreadyInFocus(t *testing.T) {
	decision := &model.IntentDecision{Candidates: []string{"app.User"}}
	ctx := &model.Context{Topic: "app.User"}

	plan := planner.Build("more of the same", decision, ctx)
	gt.V(t, plan.FocusEntities).Equal([]string{"app.User"})
}

func TestBuildWithoutCandidates(t *testing.T) {
	plan := planner.Build("  count everything  ", &model.IntentDecision{}, nil)
	gt.V(t, plan.Question).Equal("count everything")
	gt.V(t, len(plan.FocusEntities)).Equal(0)
	gt.V(t, plan.Interpretation).Equal("count everything")
}
