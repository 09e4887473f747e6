package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

func TestScenarios(t *testing.T) {
	files, err := FindScenarios(scenarioDir)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
		})
	}
}

func TestRun_ReportsUnexpectedCase(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: exit gate refuses the exit
zones:
  - { code: L7, name: Lote 7, lat: 4.61, lon: -74.08, radius_m: 300 }
flow:
  - invoke: attendance.submit
    args: { kind: entry }
  - invoke: attendance.submit
    args: { kind: exit }
    expect: { case: Success }
assertions:
  - type: pending
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected case Success, got FOLLOWUP_REQUIRED")
	assert.Equal(t, "FOLLOWUP_REQUIRED", result.Trace[1].Case)
}

func TestRun_FailingSetupIsAnError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_setup
description: setup steps must succeed
setup:
  - action: attendance.followup
    args: { slot: 1 }
flow:
  - invoke: attendance.pending
    args: {}
assertions:
  - type: pending
    count: 0
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NO_OPEN_SESSION")
}

func TestRun_MalformedArgs(t *testing.T) {
	tests := []struct {
		name string
		step string
		want string
	}{
		{"missing kind", "{ invoke: attendance.submit, args: {} }", `arg "kind" is required`},
		{"bad kind", "{ invoke: attendance.submit, args: { kind: lunch } }", "lunch"},
		{"bad duration", "{ invoke: clock.advance, args: { by: soon } }", `arg "by"`},
		{"backwards clock", "{ invoke: clock.advance, args: { by: -1h } }", "backwards"},
		{"bad op", "{ invoke: gateway.fail, args: { op: delete } }", "unknown gateway operation"},
		{"bad bool", "{ invoke: network.set, args: { online: yes please } }", "want bool"},
		{"bad coordinate", "{ invoke: device.gps, args: { at: here } }", "coordinate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := ParseScenario([]byte(`
name: malformed
description: malformed step
flow:
  - ` + tt.step + `
assertions:
  - type: pending
    count: 0
`))
			require.NoError(t, err)

			_, err = Run(context.Background(), scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_CapturesFinalState(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: state
description: final state summary
online: false
zones:
  - { code: L7, name: Lote 7, lat: 4.61, lon: -74.08, radius_m: 300 }
flow:
  - invoke: attendance.submit
    args: { kind: entry }
assertions:
  - type: pending
    count: 2
  - type: final_state
    source: local
    table: attendance_records
    rows: 1
    expect: { kind: entry, zone_status: unknown, photo_url: null }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
	assert.Equal(t, map[string]int{
		"attendance_records": 1,
		"followup_photos":    0,
		"location_samples":   1,
	}, result.State["pending"])
	assert.Equal(t, 0, result.State["remote"].(map[string]int)["attendance_records"])
}

func TestRun_TrackingOverride(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: tracking
description: periodic samples honour the configured interval
tracking_interval: 10m
zones:
  - { code: L7, name: Lote 7, lat: 4.61, lon: -74.08, radius_m: 300 }
flow:
  - invoke: attendance.locate
    args: { origin: periodic }
    expect: { case: Success }
  - invoke: clock.advance
    args: { by: 5m }
  - invoke: attendance.locate
    args: { origin: periodic }
    expect: { case: CAPTURE_TOO_RECENT }
  - invoke: clock.advance
    args: { by: 5m }
  - invoke: attendance.locate
    args: { origin: periodic }
    expect: { case: Success }
  - invoke: device.gps
    args: { fix: false }
  - invoke: clock.advance
    args: { by: 10m }
  - invoke: attendance.locate
    args: { origin: periodic }
    expect: { case: CAPTURE_FAILED }
assertions:
  - type: final_state
    source: remote
    table: location_samples
    where: { origin: periodic }
    rows: 2
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
}
