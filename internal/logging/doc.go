// Package logging sets up structured JSON logging for pipeline runs.
// Logs go to <workspace>/logs/docanalysis.log with size-based rotation,
// and optionally to stderr.
package logging
