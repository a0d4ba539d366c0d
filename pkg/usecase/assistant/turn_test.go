package assistant_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/query"
	"github.com/qqmikey/datachat/pkg/repository"
	"github.com/qqmikey/datachat/pkg/service/executor"
	"github.com/qqmikey/datachat/pkg/service/manifest"
	"github.com/qqmikey/datachat/pkg/service/router"
	"github.com/qqmikey/datachat/pkg/usecase/assistant"
)

// scriptedLLM answers each prompt kind with a scripted response, dispatching
// on the prompt template header.
type scriptedLLM struct {
	classify func() (string, error)
	generate func(call int) (string, error)
	answer   func() (string, error)
	title    func() (string, error)

	genCalls int
}

func (m *scriptedLLM) GenerateContent(_ context.Context, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if len(contents) == 0 || len(contents[0].Parts) == 0 {
		return nil, errors.New("empty prompt")
	}
	prompt := contents[0].Parts[0].Text

	var fn func() (string, error)
	switch {
	case strings.HasPrefix(prompt, "# Intent Router"):
		fn = m.classify
	case strings.HasPrefix(prompt, "# Query Code Generation"):
		call := m.genCalls
		m.genCalls++
		if m.generate != nil {
			fn = func() (string, error) { return m.generate(call) }
		}
	case strings.HasPrefix(prompt, "# Answer Summarization"):
		fn = m.answer
	case strings.HasPrefix(prompt, "# Conversation Title"):
		fn = m.title
	}
	if fn == nil {
		return nil, errors.New("unexpected prompt kind")
	}

	text, err := fn()
	if err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}, nil
}

type staticRegistry struct {
	types []adapter.EntityType
}

func (r *staticRegistry) ListEntityTypes(context.Context) ([]adapter.EntityType, error) {
	return r.types, nil
}

func dataQueryJSON(candidates ...string) func() (string, error) {
	quoted := make([]string, len(candidates))
	for i, c := range candidates {
		quoted[i] = `"` + c + `"`
	}
	body := `{"label":"DATA_QUERY","confidence":0.9,"reason":"data question",` +
		`"candidate_entity_types":[` + strings.Join(quoted, ",") + `],` +
		`"normalized_query":"count orders"}`
	return func() (string, error) { return body, nil }
}

func generationResponse(code string) string {
	return "There are some matching records.\n\nCounted the rows of the requested entity.\n\n```python\n" + code + "\n```"
}

type testEnv struct {
	repo *repository.Memory
	llm  *scriptedLLM
	as   *assistant.Assistant
}

func newTestEnv(t *testing.T, llm *scriptedLLM) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemory()
	source := query.NewMemorySource(map[string][]map[string]any{
		"shop.Order": {
			{"id": 1, "status": "paid", "amount": 120.0},
			{"id": 2, "status": "pending", "amount": 45.0},
		},
		"app.User": {
			{"id": 1, "name": "alice"},
		},
	})
	cache := manifest.New(&staticRegistry{types: []adapter.EntityType{
		{Namespace: "shop", Name: "Order", Fields: []string{"id", "status", "amount"}},
		{Namespace: "app", Name: "User", Fields: []string{"id", "name"}},
	}})
	gt.NoError(t, cache.Refresh(ctx))

	clock := func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	exec := executor.New(source, executor.WithClock(clock))
	rt := router.New(llm)

	return &testEnv{
		repo: repo,
		llm:  llm,
		as:   assistant.New(repo, llm, rt, cache, exec, assistant.WithClock(clock)),
	}
}

func TestHandleTurnAnswer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: dataQueryJSON("shop.Order"),
		generate: func(int) (string, error) {
			return generationResponse("result = Order.count()"), nil
		},
		answer: func() (string, error) { return "You have 2 orders.", nil },
		title:  func() (string, error) { return "Order counts", nil },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "How many orders do we have?")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseAnswer)
	gt.V(t, envelope.Message).Equal("You have 2 orders.")
	gt.V(t, envelope.Data["result"]).Equal(int64(2))
	gt.V(t, envelope.Data["truncated"]).Equal(false)
	gt.V(t, envelope.Meta.IntentLabel).Equal(model.IntentDataQuery)
	gt.S(t, envelope.Meta.Interpretation).Contains("Query focus: shop.Order")
	gt.V(t, envelope.Meta.TraceID).NotEqual("")

	conv := gt.R1(env.repo.GetConversation(ctx, envelope.Meta.ConversationID)).NoError(t)
	gt.V(t, conv.Title).Equal("Order counts")
	gt.V(t, conv.Topic).Equal("shop.Order")
	gt.Nil(t, conv.Pending)
	gt.S(t, conv.Summary).Contains("intent=DATA_QUERY")

	turns := gt.R1(env.repo.ListTurns(ctx, conv.ID, 0)).NoError(t)
	gt.A(t, turns).Length(2)
	gt.V(t, turns[0].Role).Equal(model.RoleUser)
	gt.V(t, turns[1].Role).Equal(model.RoleAssistant)

	records := gt.R1(env.repo.ListRecords(ctx, conv.ID)).NoError(t)
	gt.A(t, records).Length(1)
	gt.V(t, records[0].Route).Equal(model.IntentDataQuery)
	gt.V(t, records[0].Rows).Equal(1)
	gt.V(t, records[0].Code).Equal("result = Order.count()")
	gt.V(t, records[0].QueryMeta["retry_count"]).Equal(0)
}

func TestHandleTurnRetryBound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: dataQueryJSON("shop.Order"),
		generate: func(int) (string, error) {
			return generationResponse(`result = Order.filter(missing_field == "x").count()`), nil
		},
		title: func() (string, error) { return "Broken query", nil },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "count orders by missing field")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseError)
	gt.V(t, envelope.Data["error_code"]).Equal("execution_failed")
	gt.V(t, envelope.Data["retry_count"]).Equal(3)
	gt.V(t, env.llm.genCalls).Equal(3)

	records := gt.R1(env.repo.ListRecords(ctx, envelope.Meta.ConversationID)).NoError(t)
	gt.A(t, records).Length(1)
	gt.V(t, records[0].Route).Equal(model.IntentError)
	gt.S(t, records[0].Error).Contains("unknown field")
}

func TestHandleTurnNonRetryableGeneration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: dataQueryJSON("shop.Order"),
		generate: func(int) (string, error) {
			return "", genai.APIError{Code: 401, Message: "unauthorized"}
		},
		title: func() (string, error) { return "", errors.New("no title") },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "count orders")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseError)
	gt.V(t, env.llm.genCalls).Equal(1)
}

func TestHandleTurnAutofix(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: dataQueryJSON("shop.Order"),
		generate: func(int) (string, error) {
			return generationResponse("result = shop.Order.count()"), nil
		},
		answer: func() (string, error) { return "", errors.New("summarizer down") },
		title:  func() (string, error) { return "Order counts", nil },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "how many orders?")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseAnswer)
	// Summarizer failed, so the generation summary line is kept.
	gt.V(t, envelope.Message).Equal("There are some matching records.")
	gt.V(t, envelope.Data["code"]).Equal("result = Order.count()")
	gt.V(t, env.llm.genCalls).Equal(1)
}

func TestHandleTurnClarificationThenResolved(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{
		classify: func() (string, error) {
			return `{"label":"CLARIFICATION","confidence":0.8,"reason":"ambiguous",` +
				`"candidate_entity_types":["shop.Order","app.User"],` +
				`"clarification_question":"Which entity do you mean?"}`, nil
		},
		title: func() (string, error) { return "Ambiguous question", nil },
	}
	env := newTestEnv(t, llm)

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "how many are there?")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseClarification)
	gt.V(t, envelope.Message).Equal("Which entity do you mean?")
	gt.V(t, envelope.Meta.PendingClarificationID).NotEqual("")
	gt.V(t, envelope.Data["pending_clarification_id"]).Equal(envelope.Meta.PendingClarificationID)

	conv := gt.R1(env.repo.GetConversation(ctx, envelope.Meta.ConversationID)).NoError(t)
	gt.NotNil(t, conv.Pending)
	gt.V(t, conv.Pending.ID).Equal(envelope.Meta.PendingClarificationID)
	gt.V(t, conv.Topic).Equal("shop.Order")

	// The follow-up resolves as a data query and clears the pending state.
	llm.classify = dataQueryJSON("shop.Order")
	llm.generate = func(int) (string, error) {
		return generationResponse("result = Order.count()"), nil
	}
	llm.answer = func() (string, error) { return "2 orders.", nil }

	followUp := gt.R1(env.as.HandleTurn(ctx, conv.ID, "alice", "orders, please")).NoError(t)
	gt.V(t, followUp.Type).Equal(model.ResponseAnswer)

	conv = gt.R1(env.repo.GetConversation(ctx, conv.ID)).NoError(t)
	gt.Nil(t, conv.Pending)
}

func TestHandleTurnOutOfScope(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: func() (string, error) {
			return `{"label":"OUT_OF_SCOPE","confidence":0.95,"reason":"weather",` +
				`"candidate_entity_types":["shop.Order"]}`, nil
		},
		title: func() (string, error) { return "Weather question", nil },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "what is the weather tomorrow?")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseOutOfScope)
	gt.S(t, envelope.Message).Contains("Possible related entity types: shop.Order")

	records := gt.R1(env.repo.ListRecords(ctx, envelope.Meta.ConversationID)).NoError(t)
	gt.A(t, records).Length(1)
	gt.V(t, records[0].Route).Equal(model.IntentOutOfScope)
	gt.V(t, records[0].Rows).Equal(0)
}

func TestHandleTurnEmptyContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "   ")).NoError(t)
	gt.V(t, envelope.Type).Equal(model.ResponseError)
	gt.V(t, envelope.Data["error_code"]).Equal("empty_content")

	convs := gt.R1(env.repo.ListConversations(ctx, "alice")).NoError(t)
	gt.A(t, convs).Length(0)
}

func TestHandleTurnTitleFallback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: dataQueryJSON("shop.Order"),
		generate: func(int) (string, error) {
			return generationResponse("result = Order.count()"), nil
		},
		answer: func() (string, error) { return "2 orders.", nil },
		title:  func() (string, error) { return "", errors.New("title model down") },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "how many orders?")).NoError(t)
	conv := gt.R1(env.repo.GetConversation(ctx, envelope.Meta.ConversationID)).NoError(t)
	gt.V(t, conv.Title).Equal("Order analysis")
}

func TestHandleTurnUnknownConversation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{})

	_, err := env.as.HandleTurn(ctx, model.ConversationID("missing"), "alice", "hello")
	gt.True(t, errors.Is(err, model.ErrConversationNotFound))
}

func TestHandleTurnOwnerMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &scriptedLLM{
		classify: dataQueryJSON("shop.Order"),
		generate: func(int) (string, error) {
			return generationResponse("result = Order.count()"), nil
		},
		answer: func() (string, error) { return "2 orders.", nil },
		title:  func() (string, error) { return "Orders", nil },
	})

	envelope := gt.R1(env.as.HandleTurn(ctx, "", "alice", "how many orders?")).NoError(t)

	_, err := env.as.HandleTurn(ctx, envelope.Meta.ConversationID, "mallory", "show me everything")
	gt.True(t, errors.Is(err, model.ErrConversationNotFound))
}
