// Package executor runs generated query code inside the sandboxed query
// language against a data source, bounded by a row ceiling and a deadline.
package executor

import (
	"context"
	"time"

	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/query"
)

const (
	// DefaultMaxRows bounds every result set; anything larger is clipped and
	// flagged as truncated.
	DefaultMaxRows = 100

	defaultTimeout = 10 * time.Second
)

// Executor evaluates generated code. It holds no per-conversation state and
// is safe for concurrent use.
type Executor struct {
	source  query.DataSource
	maxRows int
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Executor)

func WithMaxRows(n int) Option {
	return func(e *Executor) {
		e.maxRows = n
	}
}

// WithTimeout bounds the whole evaluation client-side. The data source keeps
// its own server-side statement timeout on top of this.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithClock replaces the time source used by now()/today() builtins.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func New(source query.DataSource, opts ...Option) *Executor {
	e := &Executor{
		source:  source,
		maxRows: DefaultMaxRows,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs code against the manifest snapshot. Entity types are exposed
// by bare name; any compile or runtime failure comes back as an error for the
// orchestrator's retry loop.
func (e *Executor) Execute(ctx context.Context, code string, manifest model.Manifest) (*query.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	entities := make(map[string]query.EntityRef, len(manifest))
	for name, key := range manifest.BareNames() {
		ns, _ := model.SplitKey(key)
		entities[name] = query.EntityRef{
			Key:       key,
			Namespace: ns,
			Name:      name,
			Fields:    append([]string(nil), manifest[key]...),
		}
	}

	return query.Run(ctx, code, &query.Env{
		Entities: entities,
		Source:   e.source,
		MaxRows:  e.maxRows,
		Now:      e.now,
	})
}
