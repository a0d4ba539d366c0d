// Package memory maintains the bounded conversational context: a rolling
// summary, recent turns, the current topic, and any pending clarification.
package memory

import (
	"context"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/qqmikey/datachat/pkg/interfaces"
	"github.com/qqmikey/datachat/pkg/model"
)

const (
	historyLimit     = 8
	turnClip         = 600
	synthTurnClip    = 120
	synthTurnCount   = 4
	eventFieldClip   = 180
	summaryCeiling   = 4000
	titleQuestionMax = 80
	titleMax         = 120
)

var spaceRun = regexp.MustCompile(`\s+`)

// shorten collapses whitespace and clips to limit, appending an ellipsis when
// anything was cut.
func shorten(text string, limit int) string {
	value := spaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit < 1 {
		return ""
	}
	return strings.TrimRight(string(runes[:limit-1]), " ") + "…"
}

// BuildContext loads the latest turns and assembles the context handed to the
// router and the code generator. When the conversation has no stored summary
// yet, a synthetic one is derived from the last few turns.
func BuildContext(ctx context.Context, repo interfaces.Repository, conv *model.Conversation) (*model.Context, error) {
	stored, err := repo.ListTurns(ctx, conv.ID, historyLimit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load conversation turns")
	}

	turns := make([]model.ContextTurn, 0, len(stored))
	for _, turn := range stored {
		if turn.Role != model.RoleUser && turn.Role != model.RoleAssistant {
			continue
		}
		turns = append(turns, model.ContextTurn{
			Role:    turn.Role,
			Content: shorten(turn.Content, turnClip),
		})
	}

	summary := strings.TrimSpace(conv.Summary)
	if summary == "" && len(turns) > 0 {
		start := len(turns) - synthTurnCount
		if start < 0 {
			start = 0
		}
		pieces := make([]string, 0, synthTurnCount)
		for _, turn := range turns[start:] {
			pieces = append(pieces, string(turn.Role)+": "+shorten(turn.Content, synthTurnClip))
		}
		summary = strings.Join(pieces, " | ")
	}

	return &model.Context{
		Summary: summary,
		Turns:   turns,
		Topic:   strings.TrimSpace(conv.Topic),
		Pending: conv.Pending,
	}, nil
}

// Update appends one turn event to the rolling summary and adjusts topic and
// pending clarification. The summary is truncated from the front so the most
// recent events always survive.
func Update(conv *model.Conversation, userMessage, assistantMessage string, intent model.IntentLabel, topic string, clearPending bool) {
	event := "intent=" + string(intent) +
		"; user=" + shorten(userMessage, eventFieldClip) +
		"; assistant=" + shorten(assistantMessage, eventFieldClip)

	merged := event
	if prev := strings.TrimSpace(conv.Summary); prev != "" {
		merged = prev + "\n" + event
	}
	if runes := []rune(merged); len(runes) > summaryCeiling {
		merged = string(runes[len(runes)-summaryCeiling:])
	}
	conv.Summary = merged

	if topic != "" {
		conv.Topic = topic
	}
	if clearPending {
		conv.Pending = nil
	}
}

// Title derives a conversation title from its first question, optionally
// prefixed with the short name of the focused entity type.
func Title(question, entityHint string) string {
	base := shorten(question, titleQuestionMax)
	if base == "" {
		return ""
	}
	if entityHint != "" {
		parts := strings.Split(entityHint, ".")
		short := parts[len(parts)-1]
		return shorten(short+": "+base, titleMax)
	}
	return shorten(base, titleMax)
}
