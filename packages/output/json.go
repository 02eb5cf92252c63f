package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/runner"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary  JSONSummary `json:"summary"`
	Tests    []JSONTest  `json:"tests"`
	Duration float64     `json:"duration"`
	Time     string      `json:"time"`
}

// JSONSummary represents the test summary
type JSONSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// JSONTest represents a single request result
type JSONTest struct {
	Name       string         `json:"name"`
	File       string         `json:"file,omitempty"`
	Method     string         `json:"method,omitempty"`
	URL        string         `json:"url,omitempty"`
	Passed     bool           `json:"passed"`
	Skipped    bool           `json:"skipped,omitempty"`
	SkipReason string         `json:"skipReason,omitempty"`
	Duration   float64        `json:"duration"`
	Error      string         `json:"error,omitempty"`
	Response   *JSONResponse  `json:"response,omitempty"`
	Checks     []JSONCheck    `json:"checks,omitempty"`
	Captures   map[string]any `json:"captures,omitempty"`
	Latency    *JSONLatency   `json:"latency,omitempty"`
}

// JSONResponse represents response details
type JSONResponse struct {
	StatusCode int                 `json:"statusCode"`
	Status     string              `json:"status"`
	Proto      string              `json:"proto,omitempty"`
	URL        string              `json:"url,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body,omitempty"`
	Duration   float64             `json:"duration"`
	Redirects  int                 `json:"redirects,omitempty"`
}

// JSONCheck represents an expectation result
type JSONCheck struct {
	Subject  string `json:"subject"`
	Operator string `json:"operator,omitempty"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// JSONLatency holds percentiles in milliseconds.
type JSONLatency struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// JSONFormatter accumulates results and writes them on Flush.
type JSONFormatter struct {
	writer  io.Writer
	results []JSONTest
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer:  os.Stdout,
		results: make([]JSONTest, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func jsonResponse(resp *http.Response, withBody bool) *JSONResponse {
	out := &JSONResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		URL:        resp.URL,
		Headers:    resp.Headers,
		Duration:   ms(resp.Duration),
		Redirects:  len(resp.History),
	}
	if withBody {
		out.Body = resp.BodyString()
	}
	return out
}

// FormatResponse writes a single response immediately.
func (f *JSONFormatter) FormatResponse(resp *http.Response) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonResponse(resp, true))
}

func (f *JSONFormatter) FormatResult(result *runner.RunResult) {
	for _, r := range result.Results {
		test := JSONTest{
			Name:     r.Name,
			File:     result.File,
			Method:   r.Method,
			URL:      r.URL,
			Passed:   r.Passed,
			Skipped:  r.Skipped,
			Duration: ms(r.Duration),
		}

		if r.SkipReason != "" && r.SkipReason != "filtered out" {
			test.SkipReason = r.SkipReason
		}
		if r.Error != nil {
			test.Error = r.Error.Error()
		}
		if r.Response != nil {
			test.Response = jsonResponse(r.Response, false)
		}

		for _, c := range r.Checks {
			test.Checks = append(test.Checks, JSONCheck{
				Subject:  c.Subject,
				Operator: c.Operator,
				Expected: c.Expected,
				Actual:   c.Actual,
				Passed:   c.Passed,
				Message:  c.Message,
			})
		}

		if len(r.Captures) > 0 {
			test.Captures = r.Captures
		}

		if l := r.Latency; l != nil {
			test.Latency = &JSONLatency{
				Count: l.Count,
				Min:   ms(l.Min),
				Mean:  ms(l.Mean),
				P50:   ms(l.P50),
				P90:   ms(l.P90),
				P99:   ms(l.P99),
				Max:   ms(l.Max),
			}
		}

		f.results = append(f.results, test)
	}
}

// FormatError is a no-op; errors are part of each result.
func (f *JSONFormatter) FormatError(err error) {}

func (f *JSONFormatter) FormatHeader(version string) {}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	var passed, failed, skipped int
	for _, t := range f.results {
		switch {
		case t.Skipped:
			skipped++
		case t.Passed:
			passed++
		default:
			failed++
		}
	}

	output := JSONOutput{
		Summary: JSONSummary{
			Total:   len(f.results),
			Passed:  passed,
			Failed:  failed,
			Skipped: skipped,
		},
		Tests:    f.results,
		Duration: ms(totalDuration),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
