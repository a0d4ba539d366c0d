package adapter

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/qqmikey/datachat/pkg/query"
)

// FileRegistry is a SchemaRegistry backed by a static YAML file. It is meant
// for development and the standalone REPL; entries may carry sample rows that
// feed an in-memory data source.
//
//	entity_types:
//	  - namespace: shop
//	    name: Order
//	    fields: [id, status, total, created_at]
//	    rows:
//	      - {id: 1, status: paid, total: 42.5}
type FileRegistry struct {
	types []EntityType
	rows  map[string][]map[string]any
}

type fileRegistryDoc struct {
	EntityTypes []struct {
		Namespace string           `yaml:"namespace"`
		Name      string           `yaml:"name"`
		Fields    []string         `yaml:"fields"`
		Rows      []map[string]any `yaml:"rows"`
	} `yaml:"entity_types"`
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read schema file", goerr.V("path", path))
	}

	var doc fileRegistryDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse schema file", goerr.V("path", path))
	}
	if len(doc.EntityTypes) == 0 {
		return nil, goerr.New("schema file declares no entity types", goerr.V("path", path))
	}

	reg := &FileRegistry{rows: map[string][]map[string]any{}}
	for _, et := range doc.EntityTypes {
		if et.Namespace == "" || et.Name == "" {
			return nil, goerr.New("entity type requires namespace and name", goerr.V("path", path))
		}
		reg.types = append(reg.types, EntityType{
			Namespace: et.Namespace,
			Name:      et.Name,
			Fields:    et.Fields,
		})
		if len(et.Rows) > 0 {
			reg.rows[et.Namespace+"."+et.Name] = et.Rows
		}
	}
	return reg, nil
}

func (r *FileRegistry) ListEntityTypes(ctx context.Context) ([]EntityType, error) {
	out := make([]EntityType, len(r.types))
	copy(out, r.types)
	return out, nil
}

// Source returns an in-memory data source seeded with the sample rows from
// the schema file.
func (r *FileRegistry) Source() *query.MemorySource {
	tables := make(map[string][]map[string]any, len(r.rows))
	for key, rows := range r.rows {
		tables[key] = rows
	}
	return query.NewMemorySource(tables)
}
