package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
)

var sqlOps = map[query.Op]string{
	query.OpEq:  "=",
	query.OpNeq: "<>",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

// columnKind drives value coercion for values decoded from JSON.
type columnKind int

const (
	kindText columnKind = iota
	kindTime
	kindInt
	kindFloat
	kindBool
)

var columnKinds = map[string]columnKind{
	"timestamp":    kindTime,
	"slot":         kindInt,
	"latitude":     kindFloat,
	"longitude":    kindFloat,
	"accuracy_m":   kindFloat,
	"inconsistent": kindBool,
}

// coerce converts a JSON-shaped value into the Go type pgx encodes for the
// column. Values of unexpected shape pass through and fail in the driver.
func coerce(column string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch columnKinds[column] {
	case kindTime:
		if s, ok := v.(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", column, err)
			}
			return t.UTC(), nil
		}
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case kindInt:
		switch n := v.(type) {
		case float64:
			return int(n), nil
		case float32:
			return int(n), nil
		}
	}
	return v, nil
}

// compileQuery renders q against table as parameterized SQL.
//
// Column names come from the table allowlist, never from caller text, and
// every value is a $n parameter. The key columns are always appended to the
// ORDER BY so results are deterministic.
func compileQuery(table gateway.Table, q query.Query) (string, []any, error) {
	if _, err := gateway.ParseTable(string(table)); err != nil {
		return "", nil, err
	}
	if err := q.Validate(table.Columns()); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var params []any
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(table.Columns(), ", "), table)

	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		if f.Value == nil {
			if f.Op == query.OpEq {
				fmt.Fprintf(&b, "%s IS NULL", f.Column)
			} else {
				fmt.Fprintf(&b, "%s IS NOT NULL", f.Column)
			}
			continue
		}
		v, err := coerce(f.Column, f.Value)
		if err != nil {
			return "", nil, err
		}
		params = append(params, v)
		fmt.Fprintf(&b, "%s %s $%d", f.Column, sqlOps[f.Op], len(params))
	}

	b.WriteString(" ORDER BY ")
	seen := make(map[string]bool)
	var parts []string
	for _, o := range q.Order {
		if seen[o.Column] {
			continue
		}
		seen[o.Column] = true
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s NULLS LAST", o.Column, dir))
	}
	for _, k := range table.KeyColumns() {
		if !seen[k] {
			parts = append(parts, k+" ASC")
		}
	}
	b.WriteString(strings.Join(parts, ", "))

	if q.Limit > 0 {
		params = append(params, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(params))
	}
	return b.String(), params, nil
}

// compileInsert renders a single-row INSERT in the table's column order.
func compileInsert(table gateway.Table, row gateway.Row) (string, []any, error) {
	if err := table.Validate(row); err != nil {
		return "", nil, err
	}

	var cols, holders []string
	var params []any
	for _, c := range table.Columns() {
		v, ok := row[c]
		if !ok {
			continue
		}
		cv, err := coerce(c, v)
		if err != nil {
			return "", nil, err
		}
		params = append(params, cv)
		cols = append(cols, c)
		holders = append(holders, fmt.Sprintf("$%d", len(params)))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(holders, ", "))
	return sql, params, nil
}
