package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/query"
	"github.com/qqmikey/datachat/pkg/service/memory"
	"github.com/qqmikey/datachat/pkg/service/planner"
	"github.com/qqmikey/datachat/pkg/service/router"
	"github.com/qqmikey/datachat/pkg/utils/logging"
)

const defaultTitle = "New chat"

// HandleTurn processes one user message end to end and returns a response
// envelope. Pipeline failures are reported inside the envelope; a returned
// error means persistence itself broke. An empty conversation ID starts a new
// conversation.
func (a *Assistant) HandleTurn(ctx context.Context, convID model.ConversationID, owner, content string) (*model.Envelope, error) {
	traceID := uuid.New().String()
	content = strings.TrimSpace(content)

	if content == "" {
		return model.NewEnvelope(model.ResponseError, "Message content must not be empty.",
			map[string]any{"error_code": "empty_content"},
			model.EnvelopeMeta{ConversationID: convID, TraceID: traceID}), nil
	}

	conv, err := a.loadOrCreate(ctx, convID, owner)
	if err != nil {
		return nil, err
	}

	unlock := a.lockConversation(conv.ID)
	defer unlock()

	startedAt := a.now()
	if err := a.repo.SaveTurn(ctx, &model.Turn{
		ID:             model.NewTurnID(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      startedAt,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to save user turn")
	}

	mf := a.manifest.Get()
	convCtx, err := memory.BuildContext(ctx, a.repo, conv)
	if err != nil {
		return nil, err
	}

	decision := a.router.Route(ctx, &router.Input{
		Question: content,
		Manifest: mf,
		Pending:  conv.Pending,
		Topic:    conv.Topic,
	})
	meta := baseMeta(conv, decision, traceID)

	if err := a.prepareTitle(ctx, conv, content, decision); err != nil {
		return nil, err
	}

	var envelope *model.Envelope
	switch decision.Label {
	case model.IntentOutOfScope, model.IntentGeneralHelp:
		envelope, err = a.handleOutOfScope(ctx, conv, content, decision, meta, startedAt)
	case model.IntentClarification:
		envelope, err = a.handleClarification(ctx, conv, content, decision, meta, startedAt)
	default:
		envelope, err = a.handleDataQuery(ctx, conv, content, decision, convCtx, mf, meta, startedAt)
	}
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (a *Assistant) loadOrCreate(ctx context.Context, convID model.ConversationID, owner string) (*model.Conversation, error) {
	if convID == "" {
		now := a.now()
		conv := &model.Conversation{
			ID:        model.NewConversationID(),
			Owner:     owner,
			Title:     defaultTitle,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.repo.SaveConversation(ctx, conv); err != nil {
			return nil, goerr.Wrap(err, "failed to create conversation")
		}
		return conv, nil
	}

	conv, err := a.repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv.Owner != owner {
		return nil, goerr.Wrap(model.ErrConversationNotFound, "conversation owner mismatch",
			goerr.V("conversation_id", convID))
	}
	return conv, nil
}

// prepareTitle sets a conversation title on the first user turn. The LLM
// suggestion is best effort with a deterministic fallback from the top routed
// candidate.
func (a *Assistant) prepareTitle(ctx context.Context, conv *model.Conversation, content string, decision *model.IntentDecision) error {
	if conv.Title != "" && conv.Title != defaultTitle {
		return nil
	}
	turns, err := a.repo.ListTurns(ctx, conv.ID, 0)
	if err != nil {
		return goerr.Wrap(err, "failed to count conversation turns")
	}
	userTurns := 0
	for _, turn := range turns {
		if turn.Role == model.RoleUser {
			userTurns++
		}
	}
	if userTurns != 1 {
		return nil
	}

	title := a.suggestTitle(ctx, content)
	if title == "" {
		if top := decision.TopCandidate(); top != "" {
			_, name := model.SplitKey(top)
			if name == "" {
				name = top
			}
			title = name + " analysis"
		}
	}
	if title == "" {
		title = defaultTitle
	}
	conv.Title = normalizeTitle(title, 120)
	return nil
}

func (a *Assistant) saveAssistantTurn(ctx context.Context, conv *model.Conversation, content string, turnMeta map[string]any) error {
	if err := a.repo.SaveTurn(ctx, &model.Turn{
		ID:             model.NewTurnID(),
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        content,
		Meta:           turnMeta,
		CreatedAt:      a.now(),
	}); err != nil {
		return goerr.Wrap(err, "failed to save assistant turn")
	}
	conv.UpdatedAt = a.now()
	if err := a.repo.SaveConversation(ctx, conv); err != nil {
		return goerr.Wrap(err, "failed to save conversation")
	}
	return nil
}

// writeRecord appends the audit log entry for this turn. Audit failures are
// logged and swallowed so they never mask the turn outcome.
func (a *Assistant) writeRecord(ctx context.Context, record *model.ExecutionRecord) {
	record.ID = model.NewRecordID()
	record.CreatedAt = a.now()
	if err := a.repo.SaveRecord(ctx, record); err != nil {
		logging.Default().Warn("failed to save execution record",
			"error", err,
			"conversation_id", record.ConversationID)
	}
}

func (a *Assistant) handleOutOfScope(ctx context.Context, conv *model.Conversation, content string, decision *model.IntentDecision, meta model.EnvelopeMeta, startedAt time.Time) (*model.Envelope, error) {
	message, data := outOfScopeResponse(decision.Label, decision.Candidates)

	memory.Update(conv, content, message, decision.Label, "", false)
	if err := a.saveAssistantTurn(ctx, conv, message, map[string]any{
		"response_type": string(model.ResponseOutOfScope),
		"trace_id":      meta.TraceID,
	}); err != nil {
		return nil, err
	}

	a.writeRecord(ctx, &model.ExecutionRecord{
		ConversationID:   conv.ID,
		Owner:            conv.Owner,
		Route:            decision.Label,
		Question:         content,
		Duration:         a.now().Sub(startedAt),
		IntentLabel:      decision.Label,
		IntentConfidence: decision.Confidence,
	})

	return model.NewEnvelope(model.ResponseOutOfScope, message, data, meta), nil
}

func (a *Assistant) handleClarification(ctx context.Context, conv *model.Conversation, content string, decision *model.IntentDecision, meta model.EnvelopeMeta, startedAt time.Time) (*model.Envelope, error) {
	options := decision.Options
	if len(options) == 0 {
		for _, key := range decision.Candidates {
			options = append(options, model.ClarificationOption{
				ID:         key,
				Label:      key,
				EntityType: key,
			})
		}
	}

	pending := &model.PendingClarification{
		ID:           uuid.New().String(),
		BaseQuestion: content,
		Options:      options,
		CreatedAt:    a.now(),
	}
	conv.Pending = pending
	meta.PendingClarificationID = pending.ID

	question := decision.ClarificationQuestion
	if strings.TrimSpace(question) == "" {
		question = "Could you clarify what exactly you want to know?"
	}

	memory.Update(conv, content, question, model.IntentClarification, decision.TopCandidate(), false)
	if err := a.saveAssistantTurn(ctx, conv, question, map[string]any{
		"response_type":            string(model.ResponseClarification),
		"trace_id":                 meta.TraceID,
		"pending_clarification_id": pending.ID,
	}); err != nil {
		return nil, err
	}

	a.writeRecord(ctx, &model.ExecutionRecord{
		ConversationID:   conv.ID,
		Owner:            conv.Owner,
		Route:            model.IntentClarification,
		Question:         content,
		Duration:         a.now().Sub(startedAt),
		IntentLabel:      decision.Label,
		IntentConfidence: decision.Confidence,
	})

	return model.NewEnvelope(model.ResponseClarification, question, map[string]any{
		"question":                 question,
		"options":                  options,
		"pending_clarification_id": pending.ID,
	}, meta), nil
}

func (a *Assistant) handleDataQuery(ctx context.Context, conv *model.Conversation, content string, decision *model.IntentDecision, convCtx *model.Context, mf model.Manifest, meta model.EnvelopeMeta, startedAt time.Time) (*model.Envelope, error) {
	question := strings.TrimSpace(decision.NormalizedQuery)
	if question == "" {
		question = content
	}
	plan := planner.Build(question, decision, convCtx)

	var (
		gen       *generation
		result    *query.Result
		usedCode  string
		prevCode  string
		prevError string
		retries   int
	)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		retries = attempt

		g, err := a.generateCode(ctx, question, prevCode, prevError, convCtx, plan, mf)
		if err != nil {
			prevError = err.Error()
			if attempt >= maxAttempts-1 || !isRetryableError(err) {
				break
			}
			continue
		}

		// Try the autofixed variant first, then the original code as-is.
		candidates := []string{g.Code}
		if fixed := autofixCode(g.Code, mf); fixed != g.Code {
			candidates = []string{fixed, g.Code}
		}

		var execErr error
		for _, code := range candidates {
			res, err := a.exec.Execute(ctx, code, mf)
			if err == nil {
				gen, result, usedCode = g, res, code
				break
			}
			execErr = err
		}
		if result != nil {
			break
		}

		prevCode = g.Code
		prevError = execErr.Error()
		if attempt >= maxAttempts-1 || !isRetryableError(execErr) {
			break
		}
	}

	if result == nil {
		return a.failDataQuery(ctx, conv, content, decision, meta, startedAt, prevCode, prevError, retries)
	}

	answer := strings.TrimSpace(gen.Summary)
	if text, err := a.answerWithData(ctx, question, result.Value, result.Truncated); err == nil && strings.TrimSpace(text) != "" {
		answer = strings.TrimSpace(text)
	}
	if answer == "" {
		answer = "Done."
	}
	meta.Interpretation = plan.Interpretation

	memory.Update(conv, content, answer, model.IntentDataQuery, decision.TopCandidate(), true)
	if err := a.saveAssistantTurn(ctx, conv, answer, map[string]any{
		"response_type":  string(model.ResponseAnswer),
		"trace_id":       meta.TraceID,
		"code":           usedCode,
		"explanation":    gen.Explanation,
		"interpretation": plan.Interpretation,
		"rows":           result.Rows,
		"truncated":      result.Truncated,
	}); err != nil {
		return nil, err
	}

	a.writeRecord(ctx, &model.ExecutionRecord{
		ConversationID: conv.ID,
		Owner:          conv.Owner,
		Route:          model.IntentDataQuery,
		Question:       content,
		Code:           usedCode,
		QueryMeta: map[string]any{
			"candidate_entity_types": decision.Candidates,
			"interpretation":         plan.Interpretation,
			"retry_count":            retries,
		},
		Duration:         a.now().Sub(startedAt),
		Rows:             result.Rows,
		Truncated:        result.Truncated,
		IntentLabel:      decision.Label,
		IntentConfidence: decision.Confidence,
	})

	return model.NewEnvelope(model.ResponseAnswer, answer, map[string]any{
		"result":      result.Value,
		"rows":        result.Rows,
		"truncated":   result.Truncated,
		"code":        usedCode,
		"explanation": gen.Explanation,
	}, meta), nil
}

func (a *Assistant) failDataQuery(ctx context.Context, conv *model.Conversation, content string, decision *model.IntentDecision, meta model.EnvelopeMeta, startedAt time.Time, prevCode, prevError string, retries int) (*model.Envelope, error) {
	memory.Update(conv, content, errorMessage, model.IntentError, "", false)
	if err := a.saveAssistantTurn(ctx, conv, errorMessage, map[string]any{
		"response_type": string(model.ResponseError),
		"trace_id":      meta.TraceID,
		"error":         prevError,
	}); err != nil {
		return nil, err
	}

	a.writeRecord(ctx, &model.ExecutionRecord{
		ConversationID:   conv.ID,
		Owner:            conv.Owner,
		Route:            model.IntentError,
		Question:         content,
		Code:             prevCode,
		Duration:         a.now().Sub(startedAt),
		Error:            prevError,
		IntentLabel:      decision.Label,
		IntentConfidence: decision.Confidence,
	})

	return model.NewEnvelope(model.ResponseError, errorMessage, map[string]any{
		"error_code":  "execution_failed",
		"retry_count": retries + 1,
	}, meta), nil
}
