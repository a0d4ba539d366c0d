package manifest

import (
	"context"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/utils/logging"
)

// Cache holds the current schema manifest snapshot. Readers always get a
// consistent snapshot; Refresh swaps the whole map atomically and keeps the
// previous snapshot when introspection fails.
type Cache struct {
	registry adapter.SchemaRegistry
	current  atomic.Pointer[model.Manifest]
}

func New(registry adapter.SchemaRegistry) *Cache {
	return &Cache{registry: registry}
}

// Get returns the latest manifest snapshot, or an empty manifest before the
// first successful refresh.
func (c *Cache) Get() model.Manifest {
	if m := c.current.Load(); m != nil {
		return *m
	}
	return model.Manifest{}
}

// Refresh introspects the registry and replaces the snapshot. On failure the
// previous snapshot stays in place so readers never see a half-built schema.
func (c *Cache) Refresh(ctx context.Context) error {
	types, err := c.registry.ListEntityTypes(ctx)
	if err != nil {
		logging.From(ctx).Warn("schema refresh failed, keeping previous manifest",
			"error", err)
		return goerr.Wrap(err, "failed to refresh schema manifest")
	}

	next := make(model.Manifest, len(types))
	for _, et := range types {
		key := et.Namespace + "." + et.Name
		next[key] = append([]string(nil), et.Fields...)
	}

	c.current.Store(&next)
	logging.From(ctx).Info("schema manifest refreshed", "entity_types", len(next))
	return nil
}
