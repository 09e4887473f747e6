package harness

// TraceEvent is one executed step: the action invoked and how it completed.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Phase  string         `json:"phase"` // "setup" or "flow"
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case"`
	Result map[string]any `json:"result,omitempty"`

	// Pending is the local queue size after the step.
	Pending int `json:"pending"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State summarizes the final local queue and remote tables.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
