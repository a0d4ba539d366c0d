package router_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/service/router"
)

type mockLLM struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockLLM) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generateFunc(ctx, contents, config)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func jsonLLM(t *testing.T, decision map[string]any) *mockLLM {
	t.Helper()
	raw, err := json.Marshal(decision)
	gt.NoError(t, err)
	return &mockLLM{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(string(raw)), nil
		},
	}
}

func testManifest() model.Manifest {
	return model.Manifest{
		"app.User":                {"id", "username", "created_at"},
		"app.Payment":             {"id", "user_id", "amount", "created_at"},
		"datachat.Chat":           {"id", "title", "created_at"},
		"domain_chat.ChatSession": {"id", "user_id", "status", "created_at"},
		"domain_chat.ChatMessage": {"id", "session_id", "role", "created_at"},
	}
}

func TestRouteDataQuery(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":                  "DATA_QUERY",
		"confidence":             0.91,
		"reason":                 "clear_data_request",
		"candidate_entity_types": []string{"app.User"},
		"normalized_query":       "How many users registered today?",
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "How many users registered today?",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentDataQuery)
	gt.V(t, decision.Candidates).Equal([]string{"app.User"})
	gt.V(t, decision.Confidence).Equal(0.91)
}

func TestRouteClarificationWithOptions(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":                  "CLARIFICATION",
		"confidence":             0.66,
		"reason":                 "ambiguous_scope",
		"candidate_entity_types": []string{"app.User", "app.Payment"},
		"clarification_question": "Do you mean users or payments?",
		"options": []map[string]any{
			{"id": "1", "label": "app.User", "entity_type": "app.User"},
			{"id": "2", "label": "app.Payment", "entity_type": "app.Payment"},
		},
		"normalized_query": "Show weekly stats",
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "Show weekly stats",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentClarification)
	gt.V(t, len(decision.Options)).Equal(2)
	gt.V(t, decision.Options[0].EntityType).Equal("app.User")
	gt.V(t, decision.ClarificationQuestion).Equal("Do you mean users or payments?")
}

func TestRouteOutOfScope(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":      "OUT_OF_SCOPE",
		"confidence": 0.88,
		"reason":     "not_project_data",
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "Write a poem about the ocean",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentOutOfScope)
}

func TestRouteFallbackOnError(t *testing.T) {
	llm := &mockLLM{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("boom")
		},
	}
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "How many payments today?",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentDataQuery)
	gt.True(t, decision.Confidence >= 0.5)
	gt.V(t, decision.NormalizedQuery).Equal("How many payments today?")
}

func TestRouteFallbackOnEmptyQuestion(t *testing.T) {
	llm := &mockLLM{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("boom")
		},
	}
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "   ",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentClarification)
	gt.S(t, decision.ClarificationQuestion).Contains("clarify")
}

func TestRoutePrioritizesExplicitNamespaceOverInternal(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":                  "CLARIFICATION",
		"confidence":             0.71,
		"reason":                 "ambiguous_chat",
		"candidate_entity_types": []string{"datachat.Chat"},
		"clarification_question": "Which chat entity do you mean?",
		"options": []map[string]any{
			{"id": "1", "label": "datachat.Chat", "entity_type": "datachat.Chat"},
		},
		"normalized_query": "I need domain_chat chats count",
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "I need domain_chat chats count",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentClarification)
	gt.True(t, len(decision.Candidates) > 0)
	gt.True(t, strings.HasPrefix(decision.Candidates[0], "domain_chat."))
	gt.True(t, len(decision.Options) > 0)
	gt.True(t, strings.HasPrefix(decision.Options[0].EntityType, "domain_chat."))
}

func TestRouteDemotesInternalForGenericChatQuery(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":                  "DATA_QUERY",
		"confidence":             0.69,
		"reason":                 "generic_chat",
		"candidate_entity_types": []string{"datachat.Chat"},
		"normalized_query":       "How many chats were created today?",
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "How many chats were created today?",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentDataQuery)
	gt.True(t, len(decision.Candidates) > 0)
	gt.True(t, strings.HasPrefix(decision.Candidates[0], "domain_chat."))
}

func TestRouteKeepsInternalWhenExplicitlyRequested(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":                  "DATA_QUERY",
		"confidence":             0.8,
		"reason":                 "internal_request",
		"candidate_entity_types": []string{"datachat.Chat"},
		"normalized_query":       "Show datachat chats from the audit log",
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "Show datachat chats from the audit log",
		Manifest: testManifest(),
	})
	gt.True(t, len(decision.Candidates) > 0)
	gt.V(t, decision.Candidates[0]).Equal("datachat.Chat")
}

func TestRouteInvalidLabelDefaultsToDataQuery(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":      "SOMETHING_ELSE",
		"confidence": 2.5,
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "count payments",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentDataQuery)
	gt.V(t, decision.Confidence).Equal(1.0)
	gt.V(t, decision.NormalizedQuery).Equal("count payments")
}

func TestRouteParsesFencedJSON(t *testing.T) {
	llm := &mockLLM{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse("Here is the result:\n```json\n{\"label\": \"GENERAL_HELP\", \"confidence\": 0.9}\n```"), nil
		},
	}
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "what can you do?",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentGeneralHelp)
}

func TestRouteSynthesizesClarificationOptions(t *testing.T) {
	llm := jsonLLM(t, map[string]any{
		"label":                  "CLARIFICATION",
		"confidence":             0.6,
		"candidate_entity_types": []string{"app.User", "app.Payment"},
	})
	r := router.New(llm)

	decision := r.Route(context.Background(), &router.Input{
		Question: "weekly numbers please",
		Manifest: testManifest(),
	})
	gt.V(t, decision.Label).Equal(model.IntentClarification)
	gt.True(t, decision.ClarificationQuestion != "")
	gt.True(t, len(decision.Options) > 0)
	for _, opt := range decision.Options {
		gt.True(t, testManifest().Has(opt.EntityType))
	}
}
