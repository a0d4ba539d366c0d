package manifest_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/qqmikey/datachat/pkg/adapter"
	"github.com/qqmikey/datachat/pkg/service/manifest"
)

type mockRegistry struct {
	listFunc func(ctx context.Context) ([]adapter.EntityType, error)
}

func (m *mockRegistry) ListEntityTypes(ctx context.Context) ([]adapter.EntityType, error) {
	return m.listFunc(ctx)
}

func TestCacheRefresh(t *testing.T) {
	reg := &mockRegistry{
		listFunc: func(ctx context.Context) ([]adapter.EntityType, error) {
			return []adapter.EntityType{
				{Namespace: "shop", Name: "Order", Fields: []string{"id", "status"}},
				{Namespace: "auth", Name: "User", Fields: []string{"id", "email"}},
			}, nil
		},
	}
	cache := manifest.New(reg)

	gt.V(t, len(cache.Get())).Equal(0)

	gt.NoError(t, cache.Refresh(context.Background()))
	m := cache.Get()
	gt.V(t, len(m)).Equal(2)
	gt.V(t, m["shop.Order"]).Equal([]string{"id", "status"})
	gt.True(t, m.Has("auth.User"))
}

func TestCacheKeepsPreviousOnFailure(t *testing.T) {
	healthy := true
	reg := &mockRegistry{
		listFunc: func(ctx context.Context) ([]adapter.EntityType, error) {
			if !healthy {
				return nil, goerr.New("connection refused")
			}
			return []adapter.EntityType{
				{Namespace: "shop", Name: "Order", Fields: []string{"id"}},
			}, nil
		},
	}
	cache := manifest.New(reg)
	gt.NoError(t, cache.Refresh(context.Background()))

	healthy = false
	gt.Error(t, cache.Refresh(context.Background()))

	m := cache.Get()
	gt.V(t, len(m)).Equal(1)
	gt.True(t, m.Has("shop.Order"))
}

func TestCacheGetBeforeRefresh(t *testing.T) {
	cache := manifest.New(&mockRegistry{
		listFunc: func(ctx context.Context) ([]adapter.EntityType, error) {
			return nil, goerr.New("unused")
		},
	})
	m := cache.Get()
	gt.V(t, len(m)).Equal(0)
	gt.V(t, len(m.Keys())).Equal(0)
}
