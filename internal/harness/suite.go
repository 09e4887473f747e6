package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure describes a scenario that could not be loaded, could not
// be executed, or did not pass.
type ScenarioFailure struct {
	Scenario     string   `json:"scenario,omitempty"`
	ScenarioPath string   `json:"scenario_path"`
	Error        string   `json:"error,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// FindScenarios returns the scenario files under path: path itself if it is
// a file, otherwise every *.yaml and *.yml file below it, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// RunAll loads and runs every scenario file. observe, if non-nil, is called
// after each scenario with its path and result (nil when it could not run).
func RunAll(ctx context.Context, paths []string, observe func(path string, res *Result, err error)) *SuiteResult {
	suite := &SuiteResult{}
	for _, path := range paths {
		suite.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				ScenarioPath: path,
				Error:        fmt.Sprintf("failed to load scenario: %v", err),
			})
			if observe != nil {
				observe(path, nil, err)
			}
			continue
		}

		res, err := Run(ctx, scenario)
		if observe != nil {
			observe(path, res, err)
		}
		switch {
		case err != nil:
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Error:        fmt.Sprintf("scenario execution failed: %v", err),
			})
		case !res.Pass:
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Errors:       res.Errors,
			})
		default:
			suite.Passed++
		}
	}
	return suite
}
