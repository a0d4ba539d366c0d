package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/qqmikey/datachat/pkg/model"
)

// Memory is an in-process repository for tests and the standalone REPL.
type Memory struct {
	mu            sync.RWMutex
	conversations map[model.ConversationID]model.Conversation
	turns         map[model.ConversationID][]model.Turn
	records       map[model.ConversationID][]model.ExecutionRecord
}

func NewMemory() *Memory {
	return &Memory{
		conversations: map[model.ConversationID]model.Conversation{},
		turns:         map[model.ConversationID][]model.Turn{},
		records:       map[model.ConversationID][]model.ExecutionRecord{},
	}
}

func (r *Memory) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ID] = *conv
	return nil
}

func (r *Memory) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrConversationNotFound, "conversation not found", goerr.V("id", id))
	}
	out := conv
	return &out, nil
}

func (r *Memory) ListConversations(ctx context.Context, owner string) ([]*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Conversation
	for _, conv := range r.conversations {
		if owner != "" && conv.Owner != owner {
			continue
		}
		c := conv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *Memory) DeleteConversation(ctx context.Context, id model.ConversationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[id]; !ok {
		return goerr.Wrap(model.ErrConversationNotFound, "conversation not found", goerr.V("id", id))
	}
	delete(r.conversations, id)
	delete(r.turns, id)
	delete(r.records, id)
	return nil
}

func (r *Memory) SaveTurn(ctx context.Context, turn *model.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[turn.ConversationID] = append(r.turns[turn.ConversationID], *turn)
	return nil
}

func (r *Memory) ListTurns(ctx context.Context, id model.ConversationID, limit int) ([]*model.Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.turns[id]
	sorted := make([]model.Turn, len(stored))
	copy(sorted, stored)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	out := make([]*model.Turn, 0, len(sorted))
	for i := range sorted {
		out = append(out, &sorted[i])
	}
	return out, nil
}

func (r *Memory) SaveRecord(ctx context.Context, record *model.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ConversationID] = append(r.records[record.ConversationID], *record)
	return nil
}

func (r *Memory) ListRecords(ctx context.Context, id model.ConversationID) ([]*model.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.records[id]
	out := make([]*model.ExecutionRecord, 0, len(stored))
	for i := range stored {
		rec := stored[i]
		out = append(out, &rec)
	}
	return out, nil
}
