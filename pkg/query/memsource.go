package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// MemorySource is an in-process DataSource backed by plain row maps, keyed by
// the namespaced entity key. It backs tests and the standalone REPL; the
// production source is Postgres.
type MemorySource struct {
	tables map[string][]map[string]any
}

// NewMemorySource creates a memory-backed data source. The map is keyed by
// "namespace.EntityType".
func NewMemorySource(tables map[string][]map[string]any) *MemorySource {
	if tables == nil {
		tables = map[string][]map[string]any{}
	}
	return &MemorySource{tables: tables}
}

// Put replaces the rows of one entity type.
func (s *MemorySource) Put(key string, rows []map[string]any) {
	s.tables[key] = rows
}

func (s *MemorySource) Rows(ctx context.Context, spec *SelectSpec, limit int) ([]map[string]any, error) {
	rows, err := s.selectRows(spec)
	if err != nil {
		return nil, err
	}

	if spec.GroupBy != nil && spec.Aggregate != nil {
		rows, err = groupRows(rows, spec.GroupBy, spec.Aggregate)
		if err != nil {
			return nil, err
		}
	} else if len(spec.Columns) > 0 {
		rows = projectRows(rows, spec.Columns)
	}

	if spec.Distinct {
		rows = distinctRows(rows)
	}
	if len(spec.OrderBy) > 0 {
		sortRows(rows, spec.OrderBy)
	}
	if spec.Limit > 0 && len(rows) > spec.Limit {
		rows = rows[:spec.Limit]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemorySource) Scalar(ctx context.Context, spec *SelectSpec) (any, error) {
	if spec.Aggregate == nil {
		return nil, goerr.New("scalar query requires an aggregate")
	}
	rows, err := s.selectRows(spec)
	if err != nil {
		return nil, err
	}
	return aggregateRows(rows, spec.Aggregate)
}

func (s *MemorySource) selectRows(spec *SelectSpec) ([]map[string]any, error) {
	stored, ok := s.tables[spec.Entity.Key]
	if !ok {
		// Unknown to the source but valid per the manifest: empty result.
		stored = nil
	}
	out := make([]map[string]any, 0, len(stored))
	for _, row := range stored {
		match, err := matchCond(spec.Where, row)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

func matchCond(cond Cond, row map[string]any) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch c := cond.(type) {
	case FieldCond:
		return matchFieldCond(c, row)
	case BoolCond:
		switch c.Op {
		case "not":
			if len(c.Conds) != 1 {
				return false, goerr.New("not condition requires one child")
			}
			inner, err := matchCond(c.Conds[0], row)
			if err != nil {
				return false, err
			}
			return !inner, nil
		case "and":
			for _, child := range c.Conds {
				ok, err := matchCond(child, row)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case "or":
			for _, child := range c.Conds {
				ok, err := matchCond(child, row)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return false, goerr.New("unsupported condition")
}

func matchFieldCond(c FieldCond, row map[string]any) (bool, error) {
	value := row[c.Field]
	if c.Bucket != "" {
		bucketed, err := bucketValue(value, c.Bucket)
		if err != nil {
			return false, err
		}
		value = bucketed
	}

	switch c.Op {
	case OpEq:
		return comparableValues(value, c.Value) && compareValues(value, c.Value) == 0, nil
	case OpNe:
		return !(comparableValues(value, c.Value) && compareValues(value, c.Value) == 0), nil
	case OpLt, OpLe, OpGt, OpGe:
		if !comparableValues(value, c.Value) {
			return false, nil
		}
		cmp := compareValues(value, c.Value)
		switch c.Op {
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case OpIn:
		items, ok := c.Value.([]any)
		if !ok {
			return false, goerr.New("in filter expects a list")
		}
		for _, item := range items {
			if comparableValues(value, item) && compareValues(value, item) == 0 {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		s, ok := value.(string)
		sub, ok2 := c.Value.(string)
		if !ok || !ok2 {
			return false, nil
		}
		return strings.Contains(s, sub), nil
	}
	return false, goerr.New("unsupported filter operator", goerr.V("op", c.Op))
}

// bucketValue extracts a time bucket component from a time.Time or an RFC
// 3339 string.
func bucketValue(v any, bucket string) (any, error) {
	var ts time.Time
	switch x := v.(type) {
	case time.Time:
		ts = x
	case string:
		parsed, err := time.Parse(time.RFC3339, x)
		if err != nil {
			return nil, goerr.Wrap(err, "cannot bucket non-temporal value")
		}
		ts = parsed
	default:
		return nil, goerr.New("cannot bucket non-temporal value")
	}

	switch bucket {
	case "month":
		return int64(ts.Month()), nil
	case "day":
		return int64(ts.Day()), nil
	case "year":
		return int64(ts.Year()), nil
	case "week":
		_, week := ts.ISOWeek()
		return int64(week), nil
	}
	return nil, goerr.New("unsupported bucket", goerr.V("bucket", bucket))
}

func projectRows(rows []map[string]any, columns []string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		projected := make(map[string]any, len(columns))
		for _, col := range columns {
			projected[col] = row[col]
		}
		out = append(out, projected)
	}
	return out
}

func distinctRows(rows []map[string]any) []map[string]any {
	seen := map[string]struct{}{}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		key := fmt.Sprintf("%v", row)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func sortRows(rows []map[string]any, orders []Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, order := range orders {
			a, b := rows[i][order.Field], rows[j][order.Field]
			if !comparableValues(a, b) {
				continue
			}
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if order.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func groupRows(rows []map[string]any, gb *GroupBy, agg *Aggregate) ([]map[string]any, error) {
	type group struct {
		key    any
		values []any
		count  int64
	}
	groups := map[string]*group{}
	var order []string

	for _, row := range rows {
		keyVal := row[gb.Field]
		if gb.Bucket != "" {
			bucketed, err := bucketValue(keyVal, gb.Bucket)
			if err != nil {
				return nil, err
			}
			keyVal = bucketed
		}
		mapKey := fmt.Sprintf("%v", keyVal)
		g, ok := groups[mapKey]
		if !ok {
			g = &group{key: keyVal}
			groups[mapKey] = g
			order = append(order, mapKey)
		}
		g.count++
		if agg.Field != "" {
			g.values = append(g.values, row[agg.Field])
		}
	}

	keyName := gb.Field
	if gb.Bucket != "" {
		keyName = gb.Bucket
	}

	out := make([]map[string]any, 0, len(groups))
	for _, mapKey := range order {
		g := groups[mapKey]
		var value any
		if agg.Func == "count" {
			value = g.count
		} else {
			folded, err := foldAggregate(agg.Func, g.values)
			if err != nil {
				return nil, err
			}
			value = folded
		}
		out = append(out, map[string]any{keyName: g.key, agg.Func: value})
	}
	return out, nil
}

func aggregateRows(rows []map[string]any, agg *Aggregate) (any, error) {
	if agg.Func == "count" {
		return int64(len(rows)), nil
	}
	values := make([]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, row[agg.Field])
	}
	return foldAggregate(agg.Func, values)
}

func foldAggregate(fn string, values []any) (any, error) {
	nonNil := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			nonNil = append(nonNil, v)
		}
	}
	if len(nonNil) == 0 {
		return nil, nil
	}
	if fn == "avg" {
		total, err := foldNumbers("sum", nonNil)
		if err != nil {
			return nil, err
		}
		f, _ := toFloat(total)
		return f / float64(len(nonNil)), nil
	}
	return foldNumbers(fn, nonNil)
}
