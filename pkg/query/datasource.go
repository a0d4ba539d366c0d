package query

import "context"

// EntityRef identifies one queryable entity type and its allowed fields.
// The executor exposes entities by bare name; Key keeps the namespaced
// manifest key for diagnostics.
type EntityRef struct {
	Key       string
	Namespace string
	Name      string
	Fields    []string
}

// HasField reports whether the entity declares the given scalar field.
func (r EntityRef) HasField(name string) bool {
	for _, f := range r.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Comparison operators used in condition trees.
const (
	OpEq       = "=="
	OpNe       = "!="
	OpLt       = "<"
	OpLe       = "<="
	OpGt       = ">"
	OpGe       = ">="
	OpIn       = "in"
	OpContains = "contains"
)

// Cond is a node in a filter condition tree.
type Cond interface {
	isCond()
}

// FieldCond compares one entity field (optionally time-bucketed) against a
// literal value.
type FieldCond struct {
	Field  string
	Bucket string // "", "month", "day", "year", "week"
	Op     string
	Value  any
}

// BoolCond combines child conditions with "and", "or", or negates a single
// child with "not".
type BoolCond struct {
	Op    string // "and", "or", "not"
	Conds []Cond
}

func (FieldCond) isCond() {}
func (BoolCond) isCond()  {}

// GroupBy describes a grouping key, optionally a time bucket over a field.
type GroupBy struct {
	Field  string
	Bucket string // "", "month", "day", "year", "week"
}

// Aggregate is a terminal aggregation over the (possibly grouped) rows.
type Aggregate struct {
	Func  string // "count", "sum", "avg", "min", "max"
	Field string // empty for count
}

// Order is one sort key. Desc fields are written as "-field" in the DSL.
type Order struct {
	Field string
	Desc  bool
}

// SelectSpec is the fully resolved, read-only query produced by evaluating an
// entity method chain. It is the only thing a DataSource ever executes.
type SelectSpec struct {
	Entity    EntityRef
	Where     Cond // nil means no filter
	Columns   []string
	Distinct  bool
	GroupBy   *GroupBy
	Aggregate *Aggregate
	OrderBy   []Order
	Limit     int // 0 means no explicit limit
}

func (s *SelectSpec) clone() *SelectSpec {
	out := *s
	out.Columns = append([]string(nil), s.Columns...)
	out.OrderBy = append([]Order(nil), s.OrderBy...)
	if s.GroupBy != nil {
		gb := *s.GroupBy
		out.GroupBy = &gb
	}
	if s.Aggregate != nil {
		agg := *s.Aggregate
		out.Aggregate = &agg
	}
	return &out
}

// DataSource executes resolved query specs against the underlying store.
// Implementations must be strictly read-only and honor their configured
// statement timeout before running anything.
type DataSource interface {
	// Rows materializes up to limit rows for a non-scalar spec. Grouped
	// aggregates yield one row per group.
	Rows(ctx context.Context, spec *SelectSpec, limit int) ([]map[string]any, error)

	// Scalar evaluates an ungrouped aggregate spec to a single value.
	Scalar(ctx context.Context, spec *SelectSpec) (any, error)
}
