package cmd

import (
	"bytes"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRequestFlags(t *testing.T) {
	t.Helper()
	saved := globals
	t.Cleanup(func() {
		globals = saved
		reqDataFlag, reqJSONFlag, reqUserFlag, reqBearerFlag = "", "", "", ""
		reqFormFlag, reqQueryFlag = nil, nil
		reqDigestFlag, reqStreamFlag = false, false
	})
}

func TestFlagConfig(t *testing.T) {
	resetRequestFlags(t)
	globals = globalOptions{
		timeout:  "2s",
		insecure: true,
		noFollow: true,
		headers:  []string{"X-Trace: abc", "Accept:application/json"},
	}

	cfg, err := flagConfig()
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Timeout)
	assert.False(t, cfg.GetVerify())
	assert.False(t, cfg.GetFollowRedirects())
	assert.Nil(t, cfg.HTTP2)
	assert.Equal(t, map[string]string{"X-Trace": "abc", "Accept": "application/json"}, cfg.Headers)

	merged := config.DefaultConfig().Merge(cfg)
	assert.Equal(t, config.AdapterSession, merged.Adapter)
	assert.True(t, merged.GetHTTP2())
}

func TestFlagConfig_Invalid(t *testing.T) {
	resetRequestFlags(t)

	globals = globalOptions{timeout: "soon"}
	_, err := flagConfig()
	assert.Error(t, err)

	globals = globalOptions{headers: []string{"no-colon"}}
	_, err = flagConfig()
	assert.Error(t, err)
}

func TestBuildCLIRequest(t *testing.T) {
	resetRequestFlags(t)

	t.Run("defaults to GET", func(t *testing.T) {
		req, err := buildCLIRequest("", "http://example.com/a")
		require.NoError(t, err)
		assert.Equal(t, "GET", req.Method)
	})

	t.Run("form implies POST", func(t *testing.T) {
		reqFormFlag = []string{"name=alice", "age=30"}
		defer func() { reqFormFlag = nil }()

		req, err := buildCLIRequest("", "http://example.com/a")
		require.NoError(t, err)
		assert.Equal(t, "POST", req.Method)

		values, err := url.ParseQuery(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "alice", values.Get("name"))
		assert.Equal(t, "30", values.Get("age"))
	})

	t.Run("data from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "body.txt")
		require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
		reqDataFlag = "@" + path
		defer func() { reqDataFlag = "" }()

		req, err := buildCLIRequest("PUT", "http://example.com/a")
		require.NoError(t, err)
		assert.Equal(t, "PUT", req.Method)
		assert.Equal(t, "payload", req.Body)
	})

	t.Run("exclusive bodies", func(t *testing.T) {
		reqDataFlag, reqJSONFlag = "a", "{}"
		defer func() { reqDataFlag, reqJSONFlag = "", "" }()

		_, err := buildCLIRequest("", "http://example.com/a")
		assert.Error(t, err)
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		_, err := buildCLIRequest("", "ftp://example.com/a")
		assert.Error(t, err)
	})
}

func TestRequestCommand(t *testing.T) {
	resetRequestFlags(t)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="cli"`)
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "%s %s %s:%s", r.Method, r.URL.Query().Get("q"), user, pass)
	}))
	defer server.Close()

	globals = globalOptions{configPath: writeConfig(t), noColor: true}
	reqQueryFlag = []string{"q=1"}
	reqUserFlag = "alice:secret"
	reqOutputFlag = "console"

	var out bytes.Buffer
	requestCmd.SetOut(&out)
	defer requestCmd.SetOut(nil)

	err := requestCommand(requestCmd, []string{server.URL})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "200 ok")
	assert.Contains(t, out.String(), "GET 1 alice:secret")
}

func TestRequestCommand_ConnectionRefused(t *testing.T) {
	resetRequestFlags(t)
	server := httptest.NewServer(nethttp.NotFoundHandler())
	target := server.URL
	server.Close()

	globals = globalOptions{configPath: writeConfig(t), noColor: true}
	reqOutputFlag = "console"

	err := requestCommand(requestCmd, []string{target})
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitNetworkError, ee.code)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".nativehttp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapter: session\ntimeout: 5000\nlogLevel: error\n"), 0o644))
	return path
}

func TestIsWatchedFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"suites/api.yaml", true},
		{"suites/api.YML", true},
		{"suites/users.http", true},
		{"suites/.env", true},
		{"suites/.env.local", true},
		{"suites/notes.md", false},
		{"suites/api.yaml~", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isWatchedFile(tt.path), tt.path)
	}
}
