// Package assistant orchestrates one conversational turn: intent routing,
// planning, code generation with bounded retries, sandboxed execution, memory
// updates, and the audit log.
package assistant

import (
	"sync"
	"time"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/interfaces"
	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/service/executor"
	"github.com/qqmikey/datachat/pkg/service/manifest"
	"github.com/qqmikey/datachat/pkg/service/router"
)

// maxAttempts bounds the generate-execute loop of one DATA_QUERY turn.
const maxAttempts = 3

type Assistant struct {
	repo     interfaces.Repository
	llm      adapter.LLM
	router   *router.Router
	manifest *manifest.Cache
	exec     *executor.Executor
	now      func() time.Time

	mu    sync.Mutex
	locks map[model.ConversationID]*sync.Mutex
}

type Option func(*Assistant)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) {
		a.now = now
	}
}

func New(repo interfaces.Repository, llm adapter.LLM, rt *router.Router, mf *manifest.Cache, exec *executor.Executor, opts ...Option) *Assistant {
	a := &Assistant{
		repo:     repo,
		llm:      llm,
		router:   rt,
		manifest: mf,
		exec:     exec,
		now:      time.Now,
		locks:    map[model.ConversationID]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// lockConversation serializes turns of one conversation. Turns of different
// conversations proceed in parallel.
func (a *Assistant) lockConversation(id model.ConversationID) func() {
	a.mu.Lock()
	lock, ok := a.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[id] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
