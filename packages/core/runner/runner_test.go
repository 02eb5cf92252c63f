package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/adapter"
	nativehttp "github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="api"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Session", "s-1")
		_, _ = w.Write([]byte(`{"token": "tok-42"}`))
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "tok-42" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": body["name"]})
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id": 1, "name": "alice", "tags": ["a", "b"]}]`))
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestRunner(t *testing.T, cfg *Config) *Runner {
	t.Helper()
	client := nativehttp.NewClient(nativehttp.WithAdapter(adapter.New()))
	t.Cleanup(func() { _ = client.Close() })
	return NewRunner(client, cfg)
}

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunner_RunFile(t *testing.T) {
	server := newTestServer(t)
	path := writeSuite(t, `
name: users
variables:
  base: `+server.URL+`
requests:
  - name: login
    url: "{{base}}/login"
    auth:
      type: basic
      params: [admin, secret]
    capture:
      token: token
      session: "header:X-Session"
    expect:
      status: 200
      headers:
        Content-Type: application/json
  - name: list users
    url: "{{base}}/users"
    headers:
      X-Token: "{{token}}"
    expect:
      status: 200
      bodyContains: [alice]
      json:
        "0.id": 1
        "0.name": alice
        "0.tags": [a, b]
      schema: '{"type": "array", "items": {"type": "object", "required": ["id", "name"]}}'
  - name: create user
    method: post
    url: "{{base}}/users"
    headers:
      X-Token: "{{login.token}}"
    json:
      name: bob
    expect:
      status: 201
      json:
        name: bob
`)

	r := newTestRunner(t, nil)
	result, err := r.RunFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "users", result.Name)
	assert.Equal(t, 3, result.Passed, failures(result))
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, "tok-42", result.Results[0].Captures["token"])
	assert.Equal(t, "s-1", result.Results[0].Captures["session"])
	assert.Equal(t, "POST", result.Results[2].Method)
}

func failures(result *RunResult) string {
	var out string
	for _, r := range result.Results {
		if r.Error != nil {
			out += r.Name + ": " + r.Error.Error() + "\n"
		}
		for _, c := range r.Failed() {
			out += r.Name + ": " + c.Subject + " " + c.Message + "\n"
		}
	}
	return out
}

func TestRunner_FailedExpectations(t *testing.T) {
	server := newTestServer(t)
	suite, err := ParseSuite([]byte(`
requests:
  - name: forbidden
    url: ` + server.URL + `/users
    expect:
      status: 200
      json:
        "0.name": alice
  - name: missing schema
    url: ` + server.URL + `/users
    expect:
      schema: missing.json
`))
	require.NoError(t, err)

	r := newTestRunner(t, nil)
	result, err := r.Run(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Failed)
	failed := result.Results[0].Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "status", failed[0].Subject)
	assert.Equal(t, 403, failed[0].Actual)
	assert.Equal(t, "path not found", failed[1].Message)
	assert.Contains(t, result.Results[1].Failed()[0].Message, "cannot read schema")
}

func TestRunner_DefaultExpectation(t *testing.T) {
	server := newTestServer(t)
	suite, err := ParseSuite([]byte("requests:\n  - url: " + server.URL + "/users\n"))
	require.NoError(t, err)

	result, err := newTestRunner(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "request 1", result.Results[0].Name)
}

func TestRunner_Bail(t *testing.T) {
	server := newTestServer(t)
	suite, err := ParseSuite([]byte(`
requests:
  - url: ` + server.URL + `/users
  - url: ` + server.URL + `/users
`))
	require.NoError(t, err)

	result, err := newTestRunner(t, &Config{Bail: true}).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Len(t, result.Results, 1)
}

func TestRunner_SkipAndFilter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	suite, err := ParseSuite([]byte(`
requests:
  - name: health check
    url: ` + server.URL + `
  - name: health skipped
    url: ` + server.URL + `
    skip: not ready
  - name: other
    url: ` + server.URL + `
`))
	require.NoError(t, err)

	result, err := newTestRunner(t, &Config{NameFilter: "health*"}).Run(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, "not ready", result.Results[1].SkipReason)
	assert.Equal(t, "filtered out", result.Results[2].SkipReason)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRunner_RepeatLatency(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	suite, err := ParseSuite([]byte("requests:\n  - url: " + server.URL + "\n    repeat: 5\n"))
	require.NoError(t, err)

	result, err := newTestRunner(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)

	require.NotNil(t, result.Results[0].Latency)
	stats := result.Results[0].Latency
	assert.Equal(t, int64(5), stats.Count)
	assert.LessOrEqual(t, stats.Min, stats.P50)
	assert.LessOrEqual(t, stats.P50, stats.P99)
	assert.LessOrEqual(t, stats.P99, stats.Max)
	assert.Equal(t, int32(5), hits.Load())
}

func TestRunner_Rate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	suite, err := ParseSuite([]byte("requests:\n  - url: " + server.URL + "\n    repeat: 3\n"))
	require.NoError(t, err)

	start := time.Now()
	_, err = newTestRunner(t, &Config{Rate: 20}).Run(context.Background(), suite)
	require.NoError(t, err)
	// Burst of one: the second and third sends wait 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRunner_UnresolvedURL(t *testing.T) {
	suite, err := ParseSuite([]byte("requests:\n  - url: \"{{nowhere}}/x\"\n"))
	require.NoError(t, err)

	result, err := newTestRunner(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	require.Error(t, result.Results[0].Error)
	assert.Contains(t, result.Results[0].Error.Error(), "nowhere")
}

func TestRunner_Cancelled(t *testing.T) {
	suite, err := ParseSuite([]byte("requests:\n  - url: http://127.0.0.1:1\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestRunner(t, nil).Run(ctx, suite)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSuite_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "name: x\n"},
		{"missing url", "requests:\n  - name: a\n"},
		{"two bodies", "requests:\n  - url: http://x\n    body: a\n    form: {k: v}\n"},
		{"negative repeat", "requests:\n  - url: http://x\n    repeat: -1\n"},
		{"negative retry", "requests:\n  - url: http://x\n    retry: -1\n"},
		{"unknown operator", "requests:\n  - url: http://x\n    expect:\n      assert:\n        - {subject: status, op: approx, value: 1}\n"},
		{"bad yaml", "requests: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestFindSuites(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", "c.http", "notes.txt", ".nativehttp.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	files, err := FindSuites([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.yml"),
		filepath.Join(dir, "c.http"),
	}, files)

	_, err = FindSuites([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"get users", "", true},
		{"get users", "get users", true},
		{"get users", "get*", true},
		{"get users", "*users", true},
		{"get users", "*t u*", true},
		{"get users", "post*", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesPattern(tt.name, tt.pattern), tt.pattern)
	}
}

func TestRunner_OAuth2(t *testing.T) {
	var tokenHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenHits.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "cli" || secret != "s3cret" || r.FormValue("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "at-1", "token_type": "bearer", "expires_in": 3600}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	suite, err := ParseSuite([]byte(`
variables:
  base: ` + server.URL + `
requests:
  - url: "{{base}}/me"
    auth:
      type: oauth2
      params: [client_credentials, "{{base}}/token", cli, s3cret]
  - url: "{{base}}/me"
    auth:
      type: oauth2
      params: [client_credentials, "{{base}}/token", cli, s3cret]
`))
	require.NoError(t, err)

	// Bearer tokens travel in Authorization, which the session adapter
	// reserves, so this goes through the built-in adapter.
	client := nativehttp.NewClient()
	defer client.Close()

	result, err := NewRunner(client, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, int32(1), tokenHits.Load())
}

func TestRunner_OAuth2_BadParams(t *testing.T) {
	suite, err := ParseSuite([]byte(`
requests:
  - url: http://127.0.0.1:1/me
    auth:
      type: oauth2
      params: [client_credentials]
`))
	require.NoError(t, err)

	result, err := newTestRunner(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Error(t, result.Results[0].Error)
	assert.Contains(t, result.Results[0].Error.Error(), "oauth2 auth requires")
}
