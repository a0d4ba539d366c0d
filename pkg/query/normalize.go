package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// normalize converts an evaluation result into bounded, serializable data.
// Lazy queries are materialized up to MaxRows+1 rows and clipped; temporal
// values become RFC 3339 strings; anything that still cannot be serialized
// is stringified as a last resort. Normalization itself never fails; only
// materialization of a lazy query can.
func normalize(ctx context.Context, value any, env *Env) (*Result, error) {
	truncated := false

	if q, ok := value.(*entityQuery); ok {
		rows, err := q.materializeRows(ctx, env)
		if err != nil {
			return nil, err
		}
		value = rows
	}

	if items, ok := value.([]any); ok {
		if len(items) > env.MaxRows {
			items = items[:env.MaxRows]
			truncated = true
		}
		value = items
	}

	value = toJSONable(value)

	rows := 1
	switch v := value.(type) {
	case []any:
		rows = len(v)
	case map[string]any:
		rows = len(v)
	}

	return &Result{Value: value, Rows: rows, Truncated: truncated}, nil
}

func (q *entityQuery) materializeRows(ctx context.Context, env *Env) ([]any, error) {
	rows, err := env.Source.Rows(ctx, q.spec, env.MaxRows+1)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any(row))
	}
	return out, nil
}

func toJSONable(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = toJSONable(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, toJSONable(item))
		}
		return out
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return v
	}
}
