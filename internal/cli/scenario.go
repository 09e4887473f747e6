package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vivacius/asistenciacampo/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Run attendance scenarios against an in-process client",
		Long: `Run scenario files end to end against a fresh client stack with an
in-memory gateway, a fake clock and fake devices.

When a golden file exists next to the scenarios (golden/<name>.golden) the
trace snapshot must match it as well as the scenario's assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  asistencia scenario ./testdata/scenarios
  asistencia scenario ./testdata/scenarios --filter "offline-*"
  asistencia scenario ./testdata/scenarios --update
  asistencia scenario ./testdata/scenarios/offline_workday.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", path))
	}

	files, err := harness.FindScenarios(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if files, err = filterScenarios(files, opts.Filter); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	formatter.VerboseLog("found %d scenario file(s) under %s", len(files), path)

	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	if len(files) == 0 {
		if !text {
			return outputScenarioJSON(cmd, &harness.SuiteResult{})
		}
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	suite := harness.RunAll(commandContext(cmd), files, func(file string, res *harness.Result, err error) {
		label := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if err != nil {
			if text {
				fmt.Fprintf(w, "✗ %s\n  %v\n", label, err)
			}
			return
		}

		golden := goldenFilePath(file)
		snapshot := harness.Snapshot(label, res.Trace)
		switch {
		case opts.Update:
			if err := writeGolden(golden, snapshot); err != nil {
				res.AddError(fmt.Sprintf("failed to update golden file: %v", err))
			}
		default:
			want, err := os.ReadFile(golden)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				// Assertions only.
			case err != nil:
				res.AddError(fmt.Sprintf("failed to read golden file: %v", err))
			case !bytes.Equal(want, snapshot):
				res.AddError("trace does not match golden file (run with --update to regenerate)")
			}
		}

		if !text {
			return
		}
		if res.Pass {
			suffix := ""
			if opts.Update {
				suffix = " (golden updated)"
			}
			fmt.Fprintf(w, "✓ %s%s\n", label, suffix)
			return
		}
		fmt.Fprintf(w, "✗ %s\n", label)
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	})

	if !text {
		return outputScenarioJSON(cmd, suite)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario Summary: %d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.TotalScenarios)
	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

// filterScenarios keeps the files whose base name (without extension)
// matches pattern. An empty pattern keeps everything.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var out []string
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, f)
		}
	}
	return out, nil
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// outputScenarioJSON writes the suite result and maps failures to exit 1.
func outputScenarioJSON(cmd *cobra.Command, suite *harness.SuiteResult) error {
	response := CLIResponse{Status: "ok", Data: suite}
	if suite.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}
