// Package runner executes request suites through a nativehttp client.
//
// Suites are YAML files or .http files read by the parser package. The
// runner provides:
//   - Loading suites and resolving {{...}} placeholders
//   - Checking status, headers, body text, JSON paths and JSON schema, and
//     operator assertions such as !=, >, startsWith, matches, exists and
//     length
//   - Capturing response values for later requests
//   - Repeating requests and reporting latency percentiles
//   - Retrying requests that got no response
//   - Pacing dispatch with a rate limiter
package runner
