package preflight

import (
	"context"

	"shroomdump/internal/config"
)

// Check categories, in report order.
const (
	CategoryTools       = "tools"
	CategoryDirectories = "directories"
	CategoryEndpoints   = "endpoints"
)

// Result reports the outcome of a single preflight check. Optional marks a
// missing dependency that no longer blocks a run.
type Result struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{
			Name:     status.Name,
			Category: CategoryTools,
			Passed:   status.Available || status.Optional,
			Optional: !status.Available && status.Optional,
			Detail:   status.Detail,
		}
		if status.Available {
			result.Detail = status.Path
		}
		results = append(results, result)
	}
	results = append(results, inCategory(CategoryTools, CheckDecoder(cfg))...)

	results = append(results, inCategory(CategoryDirectories,
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Tool directory", cfg.Paths.ToolDir),
	)...)

	var endpoints []Result
	if cfg.Origins.ExternalVariablesURL != "" {
		endpoints = append(endpoints,
			CheckEndpoint(ctx, "Origins variables", cfg.Origins.ExternalVariablesURL),
			CheckEndpoint(ctx, "Origins client URLs", cfg.Origins.ClientURLsEndpoint),
		)
	}
	if cfg.Standard.ExternalVariablesURL != "" {
		endpoints = append(endpoints, CheckEndpoint(ctx, "Standard variables", cfg.Standard.ExternalVariablesURL))
	}
	results = append(results, inCategory(CategoryEndpoints, endpoints...)...)

	return results
}

func inCategory(category string, results ...Result) []Result {
	for i := range results {
		results[i].Category = category
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
