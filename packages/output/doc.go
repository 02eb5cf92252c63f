// Package output provides formatters for responses and suite results.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output
//   - JSON: Machine-readable JSON output
//
// Formatters that accumulate results implement Flush.
package output
