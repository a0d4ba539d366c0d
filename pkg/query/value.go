package query

import (
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

// comparableValues reports whether two runtime values belong to the same
// comparable family (numbers, strings, times, bools, nils).
func comparableValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, ok := toFloat(a); ok {
		_, ok2 := toFloat(b)
		return ok2
	}
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case time.Time:
		_, ok := b.(time.Time)
		return ok
	}
	return false
}

// compareValues returns -1, 0, or 1. Callers must check comparableValues
// first; incomparable pairs compare as unequal (1).
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if af, ok := toFloat(a); ok {
		if bf, ok2 := toFloat(b); ok2 {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok2 := b.(string); ok2 {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok2 := b.(bool); ok2 {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok2 := b.(time.Time); ok2 {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	return 1
}

func sortValues(items []any) ([]any, error) {
	out := append([]any(nil), items...)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		if !comparableValues(out[i], out[j]) {
			if sortErr == nil {
				sortErr = goerr.New("sorted() requires comparable values")
			}
			return false
		}
		return compareValues(out[i], out[j]) < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

func foldNumbers(fn string, items []any) (any, error) {
	if len(items) == 0 {
		if fn == "sum" {
			return int64(0), nil
		}
		return nil, goerr.New(fn + "() of empty list")
	}

	allInt := true
	floats := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, goerr.New(fn + "() expects numeric values")
		}
		if _, isInt := item.(int64); !isInt {
			allInt = false
		}
		floats = append(floats, f)
	}

	acc := floats[0]
	for _, f := range floats[1:] {
		switch fn {
		case "sum":
			acc += f
		case "min":
			if f < acc {
				acc = f
			}
		case "max":
			if f > acc {
				acc = f
			}
		}
	}
	if allInt {
		return int64(acc), nil
	}
	return acc, nil
}
