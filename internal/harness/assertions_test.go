package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Phase: "setup", Action: ActionNetwork, Args: map[string]any{"online": false}, Case: CaseSuccess},
		{Seq: 2, Phase: "flow", Action: ActionSubmit, Args: map[string]any{"kind": "entry"}, Case: CaseSuccess, Pending: 2},
		{Seq: 3, Phase: "flow", Action: ActionSubmit, Args: map[string]any{"kind": "exit"}, Case: "FOLLOWUP_REQUIRED", Pending: 2},
		{Seq: 4, Phase: "flow", Action: ActionSync, Case: CaseSuccess},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: ActionSubmit, Args: map[string]any{"kind": "exit"}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: ActionSync}))

	err := assertTraceContains(trace, Assertion{Action: ActionFollowUp})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "[3] attendance.submit {kind=exit} -> FOLLOWUP_REQUIRED")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{ActionNetwork, ActionSubmit, ActionSync}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{ActionSync, ActionSubmit}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{ActionSubmit, ActionToday}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: attendance.today")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionSubmit, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionSubmit, Args: map[string]any{"kind": "exit"}, Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionFollowUp, Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: ActionSubmit, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestCheckExpect(t *testing.T) {
	step := FlowStep{
		Invoke: ActionSubmit,
		Expect: &ExpectClause{Case: CaseSuccess, Result: map[string]any{"queued": true, "hours_worked": 4.5}},
	}

	ok := TraceEvent{Case: CaseSuccess, Result: map[string]any{"queued": true, "hours_worked": 4.5, "success": true}}
	assert.Empty(t, checkExpect(0, step, ok))

	refused := TraceEvent{Case: "FOLLOWUP_REQUIRED", Result: map[string]any{"error": "mandatory follow-up is required before exit"}}
	errs := checkExpect(2, step, refused)
	require.Len(t, errs, 3)
	assert.Equal(t, "flow[2] attendance.submit: expected case Success, got FOLLOWUP_REQUIRED (mandatory follow-up is required before exit)", errs[0])
	assert.Contains(t, errs[1], `"hours_worked"`)
	assert.Contains(t, errs[2], `"queued"`)
}

func TestValuesEqual(t *testing.T) {
	ts := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int vs float", 3, 3.0, true},
		{"float vs int", 4.5, 4, false},
		{"json number vs yaml int", float64(5), 5, true},
		{"string", "entry", "entry", true},
		{"string mismatch", "entry", "exit", false},
		{"bool", true, true, true},
		{"nil", nil, nil, true},
		{"nil expected", "x", nil, false},
		{"number vs string", 1, "1", false},
		{"time vs rfc3339", ts, "2026-03-02T07:00:00-05:00", true},
		{"time vs other", ts, "2026-03-02T08:00:00-05:00", false},
		{"map subset", map[string]any{"code": "L7", "name": "Lote 7"}, map[string]any{"code": "L7"}, true},
		{"map mismatch", map[string]any{"code": "L7"}, map[string]any{"code": "L8"}, false},
		{"slices", []any{1.0, "a"}, []any{1, "a"}, true},
		{"slice length", []any{1.0}, []any{1, 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions_StateNeedsContext(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{{Type: AssertPending}, {Type: AssertFinalState}}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "pending requires state context")
	assert.Contains(t, errs[1], "final_state requires state context")
}

func TestSnapshot(t *testing.T) {
	got := string(Snapshot("demo", sampleTrace()))
	assert.Equal(t, `scenario: demo
001 setup network.set {online=false} -> Success pending=0
002 flow  attendance.submit {kind=entry} -> Success pending=2
003 flow  attendance.submit {kind=exit} -> FOLLOWUP_REQUIRED pending=2
004 flow  sync.run {} -> Success pending=0
`, got)
}
