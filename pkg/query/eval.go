package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ResultBinding is the designated output variable generated code is expected
// to assign. Its absence is not an error; it simply yields a null result.
const ResultBinding = "result"

// Env is the restricted namespace generated code runs in: entity types by
// bare name, a data source, and a row ceiling. Nothing else is reachable.
type Env struct {
	Entities map[string]EntityRef
	Source   DataSource
	MaxRows  int

	// Now is replaceable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Result is the normalized outcome of running one piece of query code.
type Result struct {
	Value     any
	Rows      int
	Truncated bool
}

// entityQuery is a lazy query over one entity. Method chains refine the select
// spec;
// materialization happens on aggregation or at result normalization.
type entityQuery struct {
	spec *SelectSpec
}

// Run compiles and evaluates DSL code against the environment. Any compile or
// runtime failure is returned as an error; the caller treats all of them as
// execution failures.
func Run(ctx context.Context, code string, env *Env) (*Result, error) {
	prog, err := parse(code)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile query code")
	}

	ev := &evaluator{ctx: ctx, env: env, vars: map[string]any{}}
	for _, stmt := range prog.stmts {
		if as, ok := stmt.(*assignNode); ok {
			v, err := ev.eval(as.value)
			if err != nil {
				return nil, err
			}
			ev.vars[as.name] = v
			continue
		}
		if _, err := ev.eval(stmt); err != nil {
			return nil, err
		}
	}

	return normalize(ctx, ev.vars[ResultBinding], env)
}

type evaluator struct {
	ctx  context.Context
	env  *Env
	vars map[string]any
}

func (ev *evaluator) eval(n node) (any, error) {
	switch t := n.(type) {
	case *intNode:
		return t.value, nil
	case *floatNode:
		return t.value, nil
	case *stringNode:
		return t.value, nil
	case *boolNode:
		return t.value, nil
	case *nullNode:
		return nil, nil
	case *listNode:
		items := make([]any, 0, len(t.items))
		for _, item := range t.items {
			v, err := ev.eval(item)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case *identNode:
		if v, ok := ev.vars[t.name]; ok {
			return v, nil
		}
		if ref, ok := ev.env.Entities[t.name]; ok {
			return &entityQuery{spec: &SelectSpec{Entity: ref}}, nil
		}
		return nil, goerr.New(fmt.Sprintf("name %q is not defined", t.name), goerr.V("line", t.ln))
	case *attrNode:
		return nil, goerr.New(fmt.Sprintf("name %q is not defined", dottedPath(t)), goerr.V("line", t.ln))
	case *callNode:
		return ev.evalCall(t)
	case *methodNode:
		return ev.evalMethod(t)
	case *unaryNode:
		return ev.evalUnary(t)
	case *binaryNode:
		return ev.evalBinary(t)
	}
	return nil, goerr.New("unsupported expression")
}

// dottedPath renders an attrNode chain like "app.models.User" for error
// messages so the repair loop can recognize namespaced references.
func dottedPath(n node) string {
	switch t := n.(type) {
	case *attrNode:
		return dottedPath(t.recv) + "." + t.name
	case *identNode:
		return t.name
	default:
		return "?"
	}
}

func (ev *evaluator) evalCall(n *callNode) (any, error) {
	switch n.fn {
	case "len":
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		switch x := v.(type) {
		case []any:
			return int64(len(x)), nil
		case map[string]any:
			return int64(len(x)), nil
		case string:
			return int64(len(x)), nil
		case *entityQuery:
			spec := x.spec.clone()
			spec.Aggregate = &Aggregate{Func: "count"}
			return ev.env.Source.Scalar(ev.ctx, spec)
		}
		return nil, goerr.New("len() expects a collection", goerr.V("line", n.ln))
	case "sum", "min", "max":
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return nil, goerr.New(n.fn+"() expects a list", goerr.V("line", n.ln))
		}
		return foldNumbers(n.fn, items)
	case "sorted":
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return nil, goerr.New("sorted() expects a list", goerr.V("line", n.ln))
		}
		return sortValues(items)
	case "range":
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		count, ok := v.(int64)
		if !ok || count < 0 {
			return nil, goerr.New("range() expects a non-negative integer", goerr.V("line", n.ln))
		}
		out := make([]any, 0, count)
		for i := int64(0); i < count; i++ {
			out = append(out, i)
		}
		return out, nil
	case "list":
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		if q, ok := v.(*entityQuery); ok {
			return ev.materialize(q)
		}
		if items, ok := v.([]any); ok {
			return append([]any(nil), items...), nil
		}
		return []any{v}, nil
	case "now":
		if len(n.args) != 0 {
			return nil, goerr.New("now() takes no arguments", goerr.V("line", n.ln))
		}
		return ev.env.now(), nil
	case "today":
		if len(n.args) != 0 {
			return nil, goerr.New("today() takes no arguments", goerr.V("line", n.ln))
		}
		t := ev.env.now()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
	case "days_ago", "hours_ago":
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		count, ok := v.(int64)
		if !ok {
			return nil, goerr.New(n.fn+"() expects an integer", goerr.V("line", n.ln))
		}
		if n.fn == "days_ago" {
			return ev.env.now().AddDate(0, 0, -int(count)), nil
		}
		return ev.env.now().Add(-time.Duration(count) * time.Hour), nil
	case "month", "day", "year", "week":
		// Bucketing functions only make sense over a field inside filter()
		// or group_by(); on a concrete time value they extract the component.
		v, err := ev.evalOneArg(n)
		if err != nil {
			return nil, err
		}
		ts, ok := v.(time.Time)
		if !ok {
			return nil, goerr.New(n.fn+"() expects a time value outside of filter/group_by", goerr.V("line", n.ln))
		}
		switch n.fn {
		case "month":
			return int64(ts.Month()), nil
		case "day":
			return int64(ts.Day()), nil
		case "year":
			return int64(ts.Year()), nil
		default:
			_, week := ts.ISOWeek()
			return int64(week), nil
		}
	}
	return nil, goerr.New(fmt.Sprintf("name %q is not defined", n.fn), goerr.V("line", n.ln))
}

func (ev *evaluator) evalOneArg(n *callNode) (any, error) {
	if len(n.args) != 1 {
		return nil, goerr.New(n.fn+"() expects exactly one argument", goerr.V("line", n.ln))
	}
	return ev.eval(n.args[0])
}

func (ev *evaluator) evalMethod(n *methodNode) (any, error) {
	recv, err := ev.eval(n.recv)
	if err != nil {
		return nil, err
	}
	q, ok := recv.(*entityQuery)
	if !ok {
		return nil, goerr.New(fmt.Sprintf("method %q is not supported on this value", n.name), goerr.V("line", n.ln))
	}
	return ev.evalEntityMethod(q, n)
}

func (ev *evaluator) evalEntityMethod(q *entityQuery, n *methodNode) (any, error) {
	spec := q.spec.clone()
	switch n.name {
	case "filter", "exclude":
		if len(n.args) == 0 {
			return &entityQuery{spec: spec}, nil
		}
		conds := make([]Cond, 0, len(n.args))
		for _, arg := range n.args {
			cond, err := ev.evalCond(arg, spec.Entity)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		var combined Cond
		if len(conds) == 1 {
			combined = conds[0]
		} else {
			combined = BoolCond{Op: "and", Conds: conds}
		}
		if n.name == "exclude" {
			combined = BoolCond{Op: "not", Conds: []Cond{combined}}
		}
		if spec.Where == nil {
			spec.Where = combined
		} else {
			spec.Where = BoolCond{Op: "and", Conds: []Cond{spec.Where, combined}}
		}
		return &entityQuery{spec: spec}, nil

	case "values":
		for _, arg := range n.args {
			field, err := ev.fieldName(arg, spec.Entity)
			if err != nil {
				return nil, err
			}
			spec.Columns = append(spec.Columns, field)
		}
		return &entityQuery{spec: spec}, nil

	case "order_by":
		for _, arg := range n.args {
			name, err := ev.orderField(arg)
			if err != nil {
				return nil, err
			}
			order := Order{Field: name}
			if strings.HasPrefix(name, "-") {
				order = Order{Field: name[1:], Desc: true}
			}
			if err := ev.checkField(order.Field, spec.Entity); err != nil {
				return nil, err
			}
			spec.OrderBy = append(spec.OrderBy, order)
		}
		return &entityQuery{spec: spec}, nil

	case "limit":
		v, err := ev.singleArg(n)
		if err != nil {
			return nil, err
		}
		count, ok := v.(int64)
		if !ok || count < 0 {
			return nil, goerr.New("limit() expects a non-negative integer", goerr.V("line", n.ln))
		}
		spec.Limit = int(count)
		return &entityQuery{spec: spec}, nil

	case "distinct":
		if len(n.args) != 0 {
			return nil, goerr.New("distinct() takes no arguments", goerr.V("line", n.ln))
		}
		spec.Distinct = true
		return &entityQuery{spec: spec}, nil

	case "group_by":
		if len(n.args) != 1 {
			return nil, goerr.New("group_by() expects exactly one argument", goerr.V("line", n.ln))
		}
		gb, err := ev.groupKey(n.args[0], spec.Entity)
		if err != nil {
			return nil, err
		}
		spec.GroupBy = gb
		return &entityQuery{spec: spec}, nil

	case "count", "sum", "avg", "min", "max":
		agg := &Aggregate{Func: n.name}
		if n.name == "count" {
			if len(n.args) != 0 {
				return nil, goerr.New("count() takes no arguments", goerr.V("line", n.ln))
			}
		} else {
			if len(n.args) != 1 {
				return nil, goerr.New(n.name + "() expects exactly one field argument")
			}
			field, err := ev.fieldName(n.args[0], spec.Entity)
			if err != nil {
				return nil, err
			}
			agg.Field = field
		}
		spec.Aggregate = agg
		if spec.GroupBy != nil {
			// Grouped aggregates stay lazy; one row per group at
			// materialization time.
			return &entityQuery{spec: spec}, nil
		}
		return ev.env.Source.Scalar(ev.ctx, spec)
	}
	return nil, goerr.New(fmt.Sprintf("unknown query method %q", n.name), goerr.V("line", n.ln))
}

func (ev *evaluator) singleArg(n *methodNode) (any, error) {
	if len(n.args) != 1 {
		return nil, goerr.New(n.name+"() expects exactly one argument", goerr.V("line", n.ln))
	}
	return ev.eval(n.args[0])
}

// fieldName resolves a method argument that must name an entity field: a
// bare identifier or a string literal.
func (ev *evaluator) fieldName(arg node, ref EntityRef) (string, error) {
	var name string
	switch t := arg.(type) {
	case *identNode:
		name = t.name
	case *stringNode:
		name = t.value
	default:
		return "", goerr.New("expected a field name")
	}
	if err := ev.checkField(name, ref); err != nil {
		return "", err
	}
	return name, nil
}

func (ev *evaluator) orderField(arg node) (string, error) {
	switch t := arg.(type) {
	case *identNode:
		return t.name, nil
	case *stringNode:
		return t.value, nil
	case *unaryNode:
		if t.op == "-" {
			if id, ok := t.x.(*identNode); ok {
				return "-" + id.name, nil
			}
		}
	}
	return "", goerr.New("order_by() expects field names")
}

func (ev *evaluator) checkField(name string, ref EntityRef) error {
	if len(ref.Fields) == 0 {
		return nil
	}
	if !ref.HasField(name) {
		return goerr.New(fmt.Sprintf("unknown field %q on %s", name, ref.Key))
	}
	return nil
}

func (ev *evaluator) groupKey(arg node, ref EntityRef) (*GroupBy, error) {
	switch t := arg.(type) {
	case *identNode:
		if err := ev.checkField(t.name, ref); err != nil {
			return nil, err
		}
		return &GroupBy{Field: t.name}, nil
	case *stringNode:
		if err := ev.checkField(t.value, ref); err != nil {
			return nil, err
		}
		return &GroupBy{Field: t.value}, nil
	case *callNode:
		if !isBucketFunc(t.fn) {
			return nil, goerr.New(fmt.Sprintf("unsupported group_by function %q", t.fn))
		}
		if len(t.args) != 1 {
			return nil, goerr.New(t.fn + "() expects exactly one field argument")
		}
		field, err := ev.fieldName(t.args[0], ref)
		if err != nil {
			return nil, err
		}
		return &GroupBy{Field: field, Bucket: t.fn}, nil
	}
	return nil, goerr.New("group_by() expects a field or time bucket")
}

func isBucketFunc(name string) bool {
	switch name {
	case "month", "day", "year", "week":
		return true
	}
	return false
}

// evalCond translates a filter argument AST into a condition tree. Field
// references resolve against the entity's scalar fields; value sides are
// evaluated as ordinary expressions.
func (ev *evaluator) evalCond(n node, ref EntityRef) (Cond, error) {
	switch t := n.(type) {
	case *binaryNode:
		switch t.op {
		case "and", "or":
			left, err := ev.evalCond(t.x, ref)
			if err != nil {
				return nil, err
			}
			right, err := ev.evalCond(t.y, ref)
			if err != nil {
				return nil, err
			}
			return BoolCond{Op: t.op, Conds: []Cond{left, right}}, nil
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn, OpContains:
			return ev.fieldComparison(t, ref)
		}
		return nil, goerr.New(fmt.Sprintf("unsupported filter operator %q", t.op), goerr.V("line", t.ln))
	case *unaryNode:
		if t.op == "not" {
			inner, err := ev.evalCond(t.x, ref)
			if err != nil {
				return nil, err
			}
			return BoolCond{Op: "not", Conds: []Cond{inner}}, nil
		}
		return nil, goerr.New("unsupported filter expression", goerr.V("line", t.ln))
	case *identNode:
		// A bare field means "field is true".
		if err := ev.checkField(t.name, ref); err != nil {
			return nil, err
		}
		return FieldCond{Field: t.name, Op: OpEq, Value: true}, nil
	}
	return nil, goerr.New("unsupported filter expression")
}

func (ev *evaluator) fieldComparison(t *binaryNode, ref EntityRef) (Cond, error) {
	field, bucket, ok := fieldSide(t.x)
	valueNode := t.y
	op := t.op
	if !ok {
		// Allow "literal op field" by mirroring the comparison.
		if f, b, ok2 := fieldSide(t.y); ok2 {
			field, bucket = f, b
			valueNode = t.x
			op = mirrorOp(op)
		} else {
			return nil, goerr.New("filter comparison must reference an entity field", goerr.V("line", t.ln))
		}
	}
	if err := ev.checkField(field, ref); err != nil {
		return nil, err
	}
	value, err := ev.eval(valueNode)
	if err != nil {
		return nil, err
	}
	return FieldCond{Field: field, Bucket: bucket, Op: op, Value: value}, nil
}

// fieldSide recognizes a field reference: a bare identifier or a time bucket
// call wrapping one.
func fieldSide(n node) (field, bucket string, ok bool) {
	switch t := n.(type) {
	case *identNode:
		return t.name, "", true
	case *callNode:
		if isBucketFunc(t.fn) && len(t.args) == 1 {
			if id, isIdent := t.args[0].(*identNode); isIdent {
				return id.name, t.fn, true
			}
		}
	}
	return "", "", false
}

func mirrorOp(op string) string {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op
	}
}

func (ev *evaluator) evalUnary(n *unaryNode) (any, error) {
	v, err := ev.eval(n.x)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, goerr.New("not expects a boolean", goerr.V("line", n.ln))
		}
		return !b, nil
	case "-":
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, goerr.New("unary minus expects a number", goerr.V("line", n.ln))
	}
	return nil, goerr.New("unsupported unary operator")
}

func (ev *evaluator) evalBinary(n *binaryNode) (any, error) {
	left, err := ev.eval(n.x)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "and", "or":
		lb, ok := left.(bool)
		if !ok {
			return nil, goerr.New(n.op+" expects boolean operands", goerr.V("line", n.ln))
		}
		// Short circuit
		if n.op == "and" && !lb {
			return false, nil
		}
		if n.op == "or" && lb {
			return true, nil
		}
		right, err := ev.eval(n.y)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, goerr.New(n.op+" expects boolean operands", goerr.V("line", n.ln))
		}
		return rb, nil
	}

	right, err := ev.eval(n.y)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case OpEq:
		return compareValues(left, right) == 0 && comparableValues(left, right), nil
	case OpNe:
		return !(compareValues(left, right) == 0 && comparableValues(left, right)), nil
	case OpLt, OpLe, OpGt, OpGe:
		if !comparableValues(left, right) {
			return nil, goerr.New("cannot compare these values", goerr.V("line", n.ln))
		}
		c := compareValues(left, right)
		switch n.op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpIn:
		items, ok := right.([]any)
		if !ok {
			if s, isStr := right.(string); isStr {
				sub, subOK := left.(string)
				if !subOK {
					return nil, goerr.New("in expects string operands", goerr.V("line", n.ln))
				}
				return strings.Contains(s, sub), nil
			}
			return nil, goerr.New("in expects a list", goerr.V("line", n.ln))
		}
		for _, item := range items {
			if comparableValues(left, item) && compareValues(left, item) == 0 {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		switch c := left.(type) {
		case string:
			sub, ok := right.(string)
			if !ok {
				return nil, goerr.New("contains expects a string", goerr.V("line", n.ln))
			}
			return strings.Contains(c, sub), nil
		case []any:
			for _, item := range c {
				if comparableValues(right, item) && compareValues(right, item) == 0 {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, goerr.New("contains expects a string or list", goerr.V("line", n.ln))
	case "+", "-", "*", "/":
		return arith(n.op, left, right, n.ln)
	}
	return nil, goerr.New(fmt.Sprintf("unsupported operator %q", n.op))
}

func arith(op string, left, right any, ln int) (any, error) {
	if ls, ok := left.(string); ok && op == "+" {
		if rs, ok2 := right.(string); ok2 {
			return ls + rs, nil
		}
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, goerr.New("arithmetic expects numbers", goerr.V("line", ln))
	}
	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	switch op {
	case "+":
		if lInt && rInt {
			return li + ri, nil
		}
		return lf + rf, nil
	case "-":
		if lInt && rInt {
			return li - ri, nil
		}
		return lf - rf, nil
	case "*":
		if lInt && rInt {
			return li * ri, nil
		}
		return lf * rf, nil
	default:
		if rf == 0 {
			return nil, goerr.New("division by zero", goerr.V("line", ln))
		}
		return lf / rf, nil
	}
}

func (ev *evaluator) materialize(q *entityQuery) ([]any, error) {
	return q.materializeRows(ev.ctx, ev.env)
}
