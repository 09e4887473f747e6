package query

import (
	"cmp"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Match reports whether row satisfies every filter of q.
func (q Query) Match(row map[string]any) (bool, error) {
	for _, f := range q.Filters {
		ok, err := f.match(row)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (f Filter) match(row map[string]any) (bool, error) {
	v := row[f.Column]

	if f.Value == nil {
		switch f.Op {
		case OpEq:
			return v == nil, nil
		case OpNeq:
			return v != nil, nil
		default:
			return false, nil
		}
	}
	if v == nil {
		return false, nil
	}

	c, err := Compare(v, f.Value)
	if err != nil {
		return false, fmt.Errorf("column %q: %w", f.Column, err)
	}
	switch f.Op {
	case OpEq:
		return c == 0, nil
	case OpNeq:
		return c != 0, nil
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	case OpLt:
		return c < 0, nil
	case OpLte:
		return c <= 0, nil
	default:
		return false, fmt.Errorf("unknown operator %q", f.Op)
	}
}

// Apply filters, orders and limits rows in memory. The input is not modified.
func Apply(rows []map[string]any, q Query) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		ok, err := q.Match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareNullsLast(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func compareNullsLast(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, err := Compare(a, b)
	if err != nil {
		return 0
	}
	return c
}

// Compare orders two non-null column values. Times compare with times (an
// RFC 3339 string counts as a time), numbers with numbers, strings with
// strings and bools with bools.
func Compare(a, b any) (int, error) {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), nil
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return cmp.Compare(fa, fb), nil
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), nil
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, nil
			case !ba:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		// Plain dates ("2026-03-02") stay strings.
		if len(t) <= len("2006-01-02") {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
