package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vivacius/asistenciacampo/internal/geofence"
)

// Scenario defaults.
const (
	DefaultUser     = "operario-1"
	DefaultStart    = "2026-03-02T07:00:00-05:00"
	DefaultTimeZone = "America/Bogota"
)

// Scenario defines an end-to-end attendance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the signed-in worker. Defaults to DefaultUser.
	User string `yaml:"user,omitempty"`

	// Start is the initial clock reading (RFC 3339). Defaults to DefaultStart.
	Start string `yaml:"start,omitempty"`

	// TimeZone names the zone local dates are computed in.
	TimeZone string `yaml:"timezone,omitempty"`

	// Online is the initial connectivity. Defaults to true.
	Online *bool `yaml:"online,omitempty"`

	// MinDwell and TrackingInterval override the attendance rules
	// (Go durations).
	MinDwell         string `yaml:"min_dwell,omitempty"`
	TrackingInterval string `yaml:"tracking_interval,omitempty"`

	// Zones are known to the gateway. The GPS starts at the first zone's
	// center, or with no fix when there are none.
	Zones []geofence.Zone `yaml:"zones,omitempty"`

	// Setup steps establish the initial state and must succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow is the main sequence; each step may carry an expectation.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a setup action.
type ActionStep struct {
	Action string         `yaml:"action"`
	Args   map[string]any `yaml:"args"`
}

// FlowStep is a flow action with an optional expectation.
type FlowStep struct {
	Invoke string         `yaml:"invoke"`
	Args   map[string]any `yaml:"args"`

	// Expect specifies the expected completion. If nil, the step is not
	// checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is "Success" or an error code.
	Case string `yaml:"case"`

	// Result is a subset match against the completion result. Nested maps
	// are matched as subsets too.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Action and Args are used by trace_contains and trace_count.
	Action string         `yaml:"action,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Count is used by trace_count and pending.
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Source ("local" or "remote"), Table, Where, Rows and Expect are used
	// by final_state. Rows, when set, is the exact number of matching rows;
	// Expect is a subset match against every matching row.
	Source string         `yaml:"source,omitempty"`
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Rows   *int           `yaml:"rows,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertPending       = "pending"
)

// Final state sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario document. Unknown fields are rejected so
// typos like "assertion:" fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if s.TimeZone != "" {
		if _, err := time.LoadLocation(s.TimeZone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	for name, d := range map[string]string{"min_dwell": s.MinDwell, "tracking_interval": s.TrackingInterval} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for i, z := range s.Zones {
		if err := z.Validate(); err != nil {
			return fmt.Errorf("zones[%d]: %w", i, err)
		}
	}

	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
		if !knownAction(step.Action) {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
	}
	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if !knownAction(step.Invoke) {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Source != SourceLocal && a.Source != SourceRemote {
			return fmt.Errorf("assertions[%d]: source must be %q or %q for final_state", index, SourceLocal, SourceRemote)
		}
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if a.Rows == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: rows or expect is required for final_state", index)
		}
	case AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
