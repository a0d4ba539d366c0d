package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/m-mizutani/goerr/v2"

	"github.com/qqmikey/datachat/pkg/query"
)

// PostgresSource is both a SchemaRegistry (information_schema introspection)
// and a query.DataSource. Every query runs inside a read-only transaction
// with a local statement timeout, so generated code can never write or hang
// the database.
type PostgresSource struct {
	db      *sql.DB
	timeout time.Duration
}

type PostgresOption func(*PostgresSource)

// WithStatementTimeout bounds each statement server-side. Defaults to 5s.
func WithStatementTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresSource) {
		s.timeout = d
	}
}

func NewPostgres(dsn string, opts ...PostgresOption) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open postgres connection")
	}

	s := &PostgresSource{
		db:      db,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *PostgresSource) Close() error {
	return s.db.Close()
}

// systemSchemas are excluded from introspection.
var systemSchemas = []string{"pg_catalog", "information_schema", "pg_toast"}

// ListEntityTypes walks information_schema and returns one entity type per
// base table, using the schema name as namespace. Array and JSON columns are
// skipped; the query language has no operators for them.
func (s *PostgresSource) ListEntityTypes(ctx context.Context) ([]EntityType, error) {
	const q = `
		SELECT c.table_schema, c.table_name, c.column_name
		FROM information_schema.columns AS c
		JOIN information_schema.tables AS t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE t.table_type = 'BASE TABLE'
		  AND c.table_schema <> ALL($1)
		  AND c.data_type NOT IN ('ARRAY', 'json', 'jsonb')
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := s.db.QueryContext(ctx, q, pq.Array(systemSchemas))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to introspect schema")
	}
	defer rows.Close()

	var types []EntityType
	var current *EntityType
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, goerr.Wrap(err, "failed to scan column row")
		}
		if current == nil || current.Namespace != schema || current.Name != table {
			types = append(types, EntityType{Namespace: schema, Name: table})
			current = &types[len(types)-1]
		}
		current.Fields = append(current.Fields, column)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read introspection rows")
	}
	return types, nil
}

func (s *PostgresSource) Rows(ctx context.Context, spec *query.SelectSpec, limit int) ([]map[string]any, error) {
	stmt, args, err := buildSelect(spec, limit)
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	err = s.inReadOnlyTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, stmt, args...)
		if err != nil {
			return goerr.Wrap(err, "query failed", goerr.V("sql", stmt))
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return goerr.Wrap(err, "failed to read result columns")
		}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return goerr.Wrap(err, "failed to scan result row")
			}
			row := make(map[string]any, len(cols))
			for i, col := range cols {
				row[col] = normalizeSQLValue(values[i])
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresSource) Scalar(ctx context.Context, spec *query.SelectSpec) (any, error) {
	if spec.Aggregate == nil {
		return nil, goerr.New("scalar query requires an aggregate")
	}
	stmt, args, err := buildSelect(spec, 0)
	if err != nil {
		return nil, err
	}

	var value any
	err = s.inReadOnlyTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&value); err != nil {
			return goerr.Wrap(err, "scalar query failed", goerr.V("sql", stmt))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return normalizeSQLValue(value), nil
}

// inReadOnlyTx runs fn inside a read-only transaction after applying the
// statement timeout. SET LOCAL scopes the timeout to this transaction only.
func (s *PostgresSource) inReadOnlyTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return goerr.Wrap(err, "failed to begin read-only transaction")
	}
	defer tx.Rollback()

	timeoutMS := int(s.timeout / time.Millisecond)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMS)); err != nil {
		return goerr.Wrap(err, "failed to set statement timeout")
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func normalizeSQLValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return v
	}
}

// buildSelect renders a SelectSpec as one parameterized SELECT statement.
// Identifiers are double-quoted; all literal values travel as parameters.
func buildSelect(spec *query.SelectSpec, limit int) (string, []any, error) {
	var b strings.Builder
	var args []any

	b.WriteString("SELECT ")
	if spec.Distinct {
		b.WriteString("DISTINCT ")
	}

	switch {
	case spec.GroupBy != nil && spec.Aggregate != nil:
		keyExpr, keyName := groupKeyExpr(spec.GroupBy)
		b.WriteString(keyExpr)
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(keyName))
		b.WriteString(", ")
		b.WriteString(aggExpr(spec.Aggregate))
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(spec.Aggregate.Func))
	case spec.Aggregate != nil:
		b.WriteString(aggExpr(spec.Aggregate))
	case len(spec.Columns) > 0:
		for i, col := range spec.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(col))
		}
	default:
		b.WriteString("*")
	}

	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(spec.Entity.Namespace))
	b.WriteString(".")
	b.WriteString(quoteIdent(spec.Entity.Name))

	if spec.Where != nil {
		where, err := condExpr(spec.Where, &args)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if spec.GroupBy != nil && spec.Aggregate != nil {
		keyExpr, _ := groupKeyExpr(spec.GroupBy)
		b.WriteString(" GROUP BY ")
		b.WriteString(keyExpr)
		if len(spec.OrderBy) == 0 {
			b.WriteString(" ORDER BY 1")
		}
	}

	if len(spec.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, order := range spec.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(order.Field))
			if order.Desc {
				b.WriteString(" DESC")
			}
		}
	}

	effective := spec.Limit
	if limit > 0 && (effective == 0 || limit < effective) {
		effective = limit
	}
	scalar := spec.Aggregate != nil && spec.GroupBy == nil
	if effective > 0 && !scalar {
		b.WriteString(fmt.Sprintf(" LIMIT %d", effective))
	}

	return b.String(), args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func groupKeyExpr(gb *query.GroupBy) (expr, name string) {
	if gb.Bucket == "" {
		return quoteIdent(gb.Field), gb.Field
	}
	return fmt.Sprintf("EXTRACT(%s FROM %s)::int", strings.ToUpper(gb.Bucket), quoteIdent(gb.Field)), gb.Bucket
}

func aggExpr(agg *query.Aggregate) string {
	if agg.Func == "count" {
		return "count(*)"
	}
	return fmt.Sprintf("%s(%s)", agg.Func, quoteIdent(agg.Field))
}

func condExpr(cond query.Cond, args *[]any) (string, error) {
	switch c := cond.(type) {
	case query.FieldCond:
		return fieldCondExpr(c, args)
	case query.BoolCond:
		switch c.Op {
		case "not":
			if len(c.Conds) != 1 {
				return "", goerr.New("not condition requires one child")
			}
			inner, err := condExpr(c.Conds[0], args)
			if err != nil {
				return "", err
			}
			return "NOT (" + inner + ")", nil
		case "and", "or":
			parts := make([]string, 0, len(c.Conds))
			for _, child := range c.Conds {
				part, err := condExpr(child, args)
				if err != nil {
					return "", err
				}
				parts = append(parts, "("+part+")")
			}
			sep := " AND "
			if c.Op == "or" {
				sep = " OR "
			}
			return strings.Join(parts, sep), nil
		}
	}
	return "", goerr.New("unsupported condition")
}

func fieldCondExpr(c query.FieldCond, args *[]any) (string, error) {
	expr := quoteIdent(c.Field)
	if c.Bucket != "" {
		expr = fmt.Sprintf("EXTRACT(%s FROM %s)::int", strings.ToUpper(c.Bucket), expr)
	}

	param := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	switch c.Op {
	case query.OpEq:
		if c.Value == nil {
			return expr + " IS NULL", nil
		}
		return expr + " = " + param(c.Value), nil
	case query.OpNe:
		if c.Value == nil {
			return expr + " IS NOT NULL", nil
		}
		return expr + " <> " + param(c.Value), nil
	case query.OpLt:
		return expr + " < " + param(c.Value), nil
	case query.OpLe:
		return expr + " <= " + param(c.Value), nil
	case query.OpGt:
		return expr + " > " + param(c.Value), nil
	case query.OpGe:
		return expr + " >= " + param(c.Value), nil
	case query.OpIn:
		items, ok := c.Value.([]any)
		if !ok {
			return "", goerr.New("in filter expects a list")
		}
		return expr + " = ANY(" + param(pq.Array(items)) + ")", nil
	case query.OpContains:
		sub, ok := c.Value.(string)
		if !ok {
			return "", goerr.New("contains filter expects a string")
		}
		return expr + " LIKE " + param("%"+escapeLike(sub)+"%"), nil
	}
	return "", goerr.New("unsupported filter operator", goerr.V("op", c.Op))
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
