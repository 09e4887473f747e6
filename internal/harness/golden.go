package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a trace as one line per step:
//
//	003 flow  attendance.submit {kind=entry} -> Success pending=2
//
// Only the inputs, the completion case and the queue size are included, so
// snapshots stay stable when result payloads gain fields.
func Snapshot(name string, trace []TraceEvent) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, ev := range trace {
		fmt.Fprintf(&buf, "%03d %-5s %s %s -> %s pending=%d\n",
			ev.Seq, ev.Phase, ev.Action, formatArgs(ev.Args), ev.Case, ev.Pending)
	}
	return []byte(buf.String())
}

// RunWithGolden executes a scenario and compares its trace snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not be executed. A snapshot
// mismatch fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares result's trace snapshot with the golden file for
// scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result.Trace))
}
