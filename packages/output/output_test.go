package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/runner"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *runner.RunResult {
	resp := http.NewResponse(404, "not found", nil)
	resp.Status = "404 Not Found"
	return &runner.RunResult{
		File: "suite.yaml",
		Results: []*runner.RequestResult{
			{
				Name:     "list users",
				Method:   "GET",
				URL:      "http://localhost/users",
				Passed:   true,
				Duration: 12 * time.Millisecond,
				Captures: map[string]any{"id": 1.0},
				Latency:  &runner.LatencyStats{Count: 3, P50: time.Millisecond, P99: 2 * time.Millisecond, Max: 2 * time.Millisecond},
			},
			{
				Name:     "get user",
				Method:   "GET",
				Response: resp,
				Checks: []*runner.Check{
					{Subject: "status", Expected: 200, Actual: 404},
					{Subject: "body.name", Operator: "startswith", Expected: "al", Actual: "bob"},
					{Subject: "body.id", Operator: "!exists", Actual: 3.0},
				},
			},
			{Name: "broken", Error: errors.New("Could not connect to the server.")},
			{Name: "later", Skipped: true, SkipReason: "not ready"},
		},
		Passed:   1,
		Failed:   2,
		Skipped:  1,
		Duration: 40 * time.Millisecond,
	}
}

func TestConsoleFormatter_FormatResult(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true))

	f.FormatResult(sampleResult())
	out := buf.String()

	assert.Contains(t, out, "Running: suite.yaml")
	assert.Contains(t, out, "✓ list users (12ms)")
	assert.Contains(t, out, "3 runs  p50 1ms")
	assert.Contains(t, out, "✗ get user")
	assert.Contains(t, out, "Expected: 200")
	assert.Contains(t, out, "Actual:   404")
	assert.Contains(t, out, "Expected: startswith al")
	assert.Contains(t, out, "Expected: !exists\n")
	assert.Contains(t, out, "x broken (Could not connect to the server.)")
	assert.Contains(t, out, "- later (not ready)")
	assert.Contains(t, out, "id = 1")
	assert.Contains(t, out, "1 passed, 2 failed, 1 skipped, 4 total")
}

func TestConsoleFormatter_FormatResponse(t *testing.T) {
	resp := http.NewResponse(200, "ok", nil)
	resp.Status = "200 OK"
	resp.Proto = "HTTP/2.0"
	resp.Headers.Set("Content-Type", "text/plain")
	resp.Body = []byte("hello")

	var buf bytes.Buffer
	NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true)).FormatResponse(resp)

	out := buf.String()
	assert.Contains(t, out, "HTTP/2.0 200 OK")
	assert.Contains(t, out, "Content-Type: text/plain")
	assert.Contains(t, out, "\nhello\n")
}

func TestJSONFormatter_Flush(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatResult(sampleResult())
	require.NoError(t, f.Flush(time.Second))

	var out JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, JSONSummary{Total: 4, Passed: 1, Failed: 2, Skipped: 1}, out.Summary)
	require.Len(t, out.Tests, 4)
	assert.Equal(t, int64(3), out.Tests[0].Latency.Count)
	assert.Equal(t, 2.0, out.Tests[0].Latency.P99)
	assert.Equal(t, 404, out.Tests[1].Response.StatusCode)
	assert.False(t, out.Tests[1].Checks[0].Passed)
	assert.Empty(t, out.Tests[1].Checks[0].Operator)
	assert.Equal(t, "startswith", out.Tests[1].Checks[1].Operator)
	assert.Equal(t, "Could not connect to the server.", out.Tests[2].Error)
	assert.Equal(t, "not ready", out.Tests[3].SkipReason)
	assert.Equal(t, 1000.0, out.Duration)
}

func TestJSONFormatter_FormatResponse(t *testing.T) {
	resp := http.NewResponse(201, "created", nil)
	resp.Body = []byte(`{"id":1}`)

	var buf bytes.Buffer
	require.NoError(t, NewJSONFormatter(JSONWithWriter(&buf)).FormatResponse(resp))

	var out JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 201, out.StatusCode)
	assert.Equal(t, `{"id":1}`, out.Body)
}
