package adapter

import "context"

// EntityType is one queryable type discovered by a schema registry: a
// namespaced name plus its scalar field names.
type EntityType struct {
	Namespace string
	Name      string
	Fields    []string
}

// SchemaRegistry enumerates the entity types the assistant may query.
// Implementations introspect a live database or read a static file.
type SchemaRegistry interface {
	ListEntityTypes(ctx context.Context) ([]EntityType, error)
}
