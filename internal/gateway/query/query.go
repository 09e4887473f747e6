// Package query is the table-scoped filter and order model shared by every
// gateway backend.
//
// A Query is a conjunction of column filters, an ordering and an optional
// limit. The memory backend evaluates it directly (Apply); the Postgres
// backend compiles it to parameterized SQL. Columns are validated against
// the table's allowlist before either happens, so no caller-supplied name
// ever reaches SQL text unchecked.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Valid reports whether o is a known operator.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return true
	default:
		return false
	}
}

// MaxLimit caps the number of rows a single query may return.
const MaxLimit = 1000

// Filter compares one column against a literal value.
//
// A nil Value only makes sense with OpEq (IS NULL) and OpNeq (IS NOT NULL).
// Any other comparison involving NULL is false.
type Filter struct {
	Column string `json:"column" validate:"required"`
	Op     Op     `json:"op" validate:"required,oneof=eq neq gt gte lt lte"`
	Value  any    `json:"value"`
}

// Order sorts by one column.
type Order struct {
	Column string `json:"column" validate:"required"`
	Desc   bool   `json:"desc"`
}

// Query selects rows of one table.
type Query struct {
	Filters []Filter `json:"filters,omitempty" validate:"dive"`
	Order   []Order  `json:"order,omitempty" validate:"dive"`
	Limit   int      `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

// New returns an empty query (all rows, unordered).
func New() Query {
	return Query{}
}

// Where appends filters.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// OrderBy appends an ordering column.
func (q Query) OrderBy(column string, desc bool) Query {
	q.Order = append(append([]Order(nil), q.Order...), Order{Column: column, Desc: desc})
	return q
}

// WithLimit sets the row limit. Zero means unlimited.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Gte builds a greater-or-equal filter.
func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: OpGte, Value: value}
}

// Lte builds a less-or-equal filter.
func Lte(column string, value any) Filter {
	return Filter{Column: column, Op: OpLte, Value: value}
}

// Validate checks the query against the allowed columns of its table.
// All problems are reported together.
func (q Query) Validate(columns []string) error {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}

	var errs []error
	for i, f := range q.Filters {
		if !allowed[f.Column] {
			errs = append(errs, fmt.Errorf("filter %d: unknown column %q", i, f.Column))
		}
		if !f.Op.Valid() {
			errs = append(errs, fmt.Errorf("filter %d: unknown operator %q", i, f.Op))
		}
		if f.Value == nil && f.Op != OpEq && f.Op != OpNeq {
			errs = append(errs, fmt.Errorf("filter %d: operator %q cannot compare NULL", i, f.Op))
		}
	}
	for i, o := range q.Order {
		if !allowed[o.Column] {
			errs = append(errs, fmt.Errorf("order %d: unknown column %q", i, o.Column))
		}
	}
	if q.Limit < 0 || q.Limit > MaxLimit {
		errs = append(errs, fmt.Errorf("limit %d out of range [0, %d]", q.Limit, MaxLimit))
	}
	return errors.Join(errs...)
}

// String renders the query for logs.
func (q Query) String() string {
	var b strings.Builder
	for i, f := range q.Filters {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s %s %v", f.Column, f.Op, f.Value)
	}
	for i, o := range q.Order {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(o.Column)
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return strings.TrimSpace(b.String())
}
