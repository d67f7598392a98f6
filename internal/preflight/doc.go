// Package preflight runs the environment checks behind `docanalysis doctor`
// and the first pipeline run in a workspace.
//
// The package validates:
//   - Disk space in the workspace (minimum 500MB)
//   - Available memory
//   - Write permissions in the workspace
//   - File descriptor limits (minimum 1024)
//   - OCR tools for scanned PDFs
//   - The embedding provider used by the embedding cluster method
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithConfig(cfg))
//	results := checker.RunAll(ctx, cfg.Workspace)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
