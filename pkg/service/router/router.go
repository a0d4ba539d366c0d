package router

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/utils/logging"
)

//go:embed prompt/classify.md
var classifyPromptRaw string

var classifyPromptTmpl = template.Must(template.New("classify").Parse(classifyPromptRaw))

const (
	maxCandidates    = 4
	snippetMaxTypes  = 200
	snippetMaxFields = 30

	defaultConfidence          = 0.55
	fallbackEmptyConfidence    = 0.55
	fallbackNonEmptyConfidence = 0.51
)

// DefaultInternalNamespace is where the assistant keeps its own audit tables.
// Questions are steered away from it unless they explicitly ask about
// assistant internals.
const DefaultInternalNamespace = "datachat"

// Router classifies a user question into an intent and ranks candidate entity
// types for it. Classification failures never surface as errors; the router
// degrades to a deterministic fallback decision.
type Router struct {
	llm               adapter.LLM
	internalNamespace string
}

type Option func(*Router)

func WithInternalNamespace(ns string) Option {
	return func(r *Router) {
		r.internalNamespace = ns
	}
}

func New(llm adapter.LLM, opts ...Option) *Router {
	r := &Router{
		llm:               llm,
		internalNamespace: DefaultInternalNamespace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Input carries one question plus the conversational state that shapes
// classification.
type Input struct {
	Question string
	Manifest model.Manifest
	Pending  *model.PendingClarification
	Topic    string
}

// Route classifies the question. The returned decision is always usable: on
// any LLM or parse failure it falls back to DATA_QUERY (or CLARIFICATION for
// an empty question) with a low confidence.
func (r *Router) Route(ctx context.Context, in *Input) *model.IntentDecision {
	question := trimmed(in.Question)

	raw, err := r.classify(ctx, question, in)
	if err != nil {
		logging.From(ctx).Warn("intent classification failed, using fallback",
			"error", err)
		return fallbackDecision(question, "router_error")
	}
	if len(raw) == 0 {
		return fallbackDecision(question, "router_empty_result")
	}
	return r.normalizeDecision(raw, question, in.Manifest)
}

type routerPayload struct {
	Question     string                      `json:"question"`
	CurrentTopic string                      `json:"current_topic"`
	Pending      *model.PendingClarification `json:"pending_clarification,omitempty"`
	ManifestNote string                      `json:"manifest_note"`
	Manifest     string                      `json:"manifest"`
}

func (r *Router) classify(ctx context.Context, question string, in *Input) (map[string]any, error) {
	payload, err := json.Marshal(routerPayload{
		Question:     question,
		CurrentTopic: in.Topic,
		Pending:      in.Pending,
		ManifestNote: "Manifest is clipped to 200 entity types and 30 fields per type.",
		Manifest:     in.Manifest.Snippet(snippetMaxTypes, snippetMaxFields),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal router payload")
	}

	var buf bytes.Buffer
	if err := classifyPromptTmpl.Execute(&buf, map[string]string{
		"InternalNamespace": r.internalNamespace,
		"Payload":           string(payload),
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to render router prompt")
	}

	resp, err := r.llm.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0),
		})
	if err != nil {
		return nil, goerr.Wrap(err, "router llm call failed")
	}

	return extractJSONObject(adapter.ResponseText(resp)), nil
}

func (r *Router) normalizeDecision(raw map[string]any, question string, manifest model.Manifest) *model.IntentDecision {
	label := model.IntentLabel(upperTrimmed(stringValue(raw["label"])))
	if !model.ValidIntentLabel(label) {
		label = model.IntentDataQuery
	}

	confidence := floatValue(raw["confidence"], defaultConfidence)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	candidates := normalizeCandidates(raw["candidate_entity_types"], manifest, maxCandidates)
	options := normalizeOptions(raw["options"], manifest, maxCandidates)
	candidates = r.prioritizeCandidates(question, candidates, manifest, maxCandidates)
	options = prioritizeOptions(options, candidates, maxCandidates)

	clarification := trimmed(stringValue(raw["clarification_question"]))
	normalized := trimmed(stringValue(raw["normalized_query"]))
	if normalized == "" {
		normalized = question
	}
	reason := trimmed(stringValue(raw["reason"]))

	if label == model.IntentClarification && clarification == "" {
		clarification = "Please clarify which entity type or metric your question is about."
	}
	if label == model.IntentClarification && len(options) == 0 && len(candidates) > 0 {
		for idx, key := range candidates {
			options = append(options, model.ClarificationOption{
				ID:         itoa(idx + 1),
				Label:      key,
				EntityType: key,
			})
		}
	}
	if label == model.IntentOutOfScope && reason == "" {
		reason = "classified_out_of_scope"
	}

	return &model.IntentDecision{
		Label:                 label,
		Confidence:            confidence,
		Reason:                reason,
		Candidates:            candidates,
		ClarificationQuestion: clarification,
		Options:               options,
		NormalizedQuery:       normalized,
	}
}

// fallbackDecision is the deterministic decision used when classification is
// unavailable. An empty question asks for clarification; anything else is
// treated as a low-confidence data query.
func fallbackDecision(question, reason string) *model.IntentDecision {
	if question == "" {
		return &model.IntentDecision{
			Label:                 model.IntentClarification,
			Confidence:            fallbackEmptyConfidence,
			Reason:                reason,
			ClarificationQuestion: "Please clarify what you want to measure or list from project data.",
		}
	}
	return &model.IntentDecision{
		Label:           model.IntentDataQuery,
		Confidence:      fallbackNonEmptyConfidence,
		Reason:          reason,
		NormalizedQuery: question,
	}
}
