package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/memory"
	"github.com/vivacius/asistenciacampo/internal/record"
	"github.com/vivacius/asistenciacampo/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // nil for state assertions
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Seq, ev.Action, formatArgs(ev.Args), ev.Case)
		}
	}
	return buf.String()
}

// checkExpect compares a flow step's completion with its expect clause.
func checkExpect(index int, step FlowStep, ev TraceEvent) []string {
	var errs []string
	if ev.Case != step.Expect.Case {
		msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", index, step.Invoke, step.Expect.Case, ev.Case)
		if e, ok := ev.Result["error"].(string); ok && e != "" {
			msg += fmt.Sprintf(" (%s)", e)
		}
		errs = append(errs, msg)
	}
	for _, key := range sortedKeys(step.Expect.Result) {
		want := step.Expect.Result[key]
		got, ok := ev.Result[key]
		if !ok || !valuesEqual(got, want) {
			errs = append(errs, fmt.Sprintf("flow[%d] %s: result %q = %v, want %v", index, step.Invoke, key, got, want))
		}
	}
	return errs
}

// assertTraceContains checks for an invocation of the action whose args
// include the expected ones.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range trace {
		if ev.Action == assertion.Action && matchArgs(ev.Args, assertion.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %s", assertion.Action, formatArgs(assertion.Args)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the actions appear
// in order. Intervening actions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if positions[ev.Action] == 0 {
			positions[ev.Action] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the action (with matching args, if given)
// appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Action == assertion.Action && matchArgs(ev.Args, assertion.Args) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState filters the rows of a local or remote table and checks
// their number and contents.
func assertFinalState(ctx context.Context, actx *AssertionContext, assertion Assertion) error {
	table, err := gateway.ParseTable(assertion.Table)
	if err != nil {
		return err
	}

	var rows []gateway.Row
	switch assertion.Source {
	case SourceRemote:
		rows = actx.Gateway.Rows(table)
	case SourceLocal:
		if rows, err = localRows(ctx, actx.Store, table); err != nil {
			return err
		}
	}

	var matched []gateway.Row
	for _, row := range rows {
		if matchArgs(row, assertion.Where) {
			matched = append(matched, row)
		}
	}

	desc := fmt.Sprintf("%s %s where %s", assertion.Source, table, formatArgs(assertion.Where))
	if assertion.Rows != nil && len(matched) != *assertion.Rows {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d rows in %s", *assertion.Rows, desc),
			Actual:   fmt.Sprintf("%d rows", len(matched)),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}
	if len(matched) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s", desc),
			Actual:   "row not found",
		}
	}
	for _, row := range matched {
		for _, key := range sortedKeys(assertion.Expect) {
			want := assertion.Expect[key]
			got, ok := row[key]
			if !ok {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("field %q to exist in %s", key, desc),
					Actual:   fmt.Sprintf("columns: %v", sortedKeys(row)),
				}
			}
			if !valuesEqual(got, want) {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("field %q = %v in %s", key, want, desc),
					Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
				}
			}
		}
	}
	return nil
}

// localRows renders the queued entities of table in the remote row shape.
func localRows(ctx context.Context, st *store.Store, table gateway.Table) ([]gateway.Row, error) {
	var rows []gateway.Row
	switch table {
	case gateway.TableAttendance:
		events, err := st.ListAllEvents(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			rows = append(rows, record.EventToRow(e))
		}
	case gateway.TableFollowUps:
		followUps, err := st.ListAllFollowUps(ctx)
		if err != nil {
			return nil, err
		}
		for _, f := range followUps {
			rows = append(rows, record.FollowUpToRow(f))
		}
	case gateway.TableLocations:
		samples, err := st.ListAllLocations(ctx)
		if err != nil {
			return nil, err
		}
		for _, l := range samples {
			rows = append(rows, record.LocationToRow(l))
		}
	}
	return rows, nil
}

func assertPending(ctx context.Context, st *store.Store, assertion Assertion) error {
	n, err := st.Count(ctx)
	if err != nil {
		return err
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending entities", assertion.Count),
			Actual:   fmt.Sprintf("%d pending", n),
		}
	}
	return nil
}

// matchArgs reports whether actual contains every expected key with an
// equal value.
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a YAML-decoded expectation with an actual value.
// Numbers compare by value whatever their Go type, times compare with
// RFC 3339 strings, and maps are subset matches.
func valuesEqual(actual, expected any) bool {
	if expected == nil {
		return actual == nil
	}
	if a, ok := toFloat(actual); ok {
		e, ok := toFloat(expected)
		return ok && a == e
	}
	switch a := actual.(type) {
	case time.Time:
		e, ok := expected.(string)
		if !ok {
			return false
		}
		t, err := time.Parse(time.RFC3339, e)
		return err == nil && t.Equal(a)
	case map[string]any:
		e, ok := expected.(map[string]any)
		return ok && matchArgs(a, e)
	case []any:
		e, ok := expected.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range a {
			if !valuesEqual(a[i], e[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatArgs renders args as sorted key=value pairs.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(args))
	for _, k := range sortedKeys(args) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// AssertionContext gives assertions access to the final state.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Gateway *memory.Gateway
}

// EvaluateAssertions evaluates all assertions against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertPending:
			if actx == nil || actx.Store == nil || actx.Gateway == nil {
				err = fmt.Errorf("assertion[%d]: %s requires state context", i, assertion.Type)
			} else if assertion.Type == AssertPending {
				err = assertPending(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
