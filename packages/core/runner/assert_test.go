package runner

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	nativehttp "github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse() *nativehttp.Response {
	resp := nativehttp.NewResponse(200, "ok", http.Header{
		"Content-Type": {"application/json"},
		"X-Request-Id": {"abc-123"},
	})
	resp.Body = []byte(`{"name":"alice","age":30,"tags":["a","b"],"nested":{"k":1},"items":[{"id":1},{"id":2}],"nothing":null}`)
	resp.Duration = 150 * time.Millisecond
	return resp
}

func TestEvaluator_Operators(t *testing.T) {
	e := newEvaluator(jsonResponse(), t.TempDir())

	tests := []struct {
		subject string
		op      string
		value   any
		passed  bool
	}{
		{"status", "", 200, true},
		{"status", "==", "200", true},
		{"status", "!=", 404, true},
		{"status", "!=", 200, false},
		{"status", ">", 199, true},
		{"status", ">=", 200, true},
		{"status", "<", 300, true},
		{"status", "<=", 199, false},
		{"status", ">", "many", false},
		{"duration", "<", 1000, true},
		{"header Content-Type", "contains", "json", true},
		{"header X-Request-Id", "startsWith", "abc", true},
		{"header X-Request-Id", "endswith", "123", true},
		{"header X-Request-Id", "matches", `/^abc-\d+$/`, true},
		{"header X-Request-Id", "matches", `^xyz`, false},
		{"body.name", "!contains", "bob", true},
		{"body.name", "exists", nil, true},
		{"body.missing", "exists", nil, false},
		{"body.missing", "!exists", nil, true},
		{"body.tags", "length", 2, true},
		{"body.name", "length", 5, true},
		{"body.age", "length", 1, false},
		{"body.tags", "includes", "a", true},
		{"body.tags", "!includes", "c", true},
		{"body.name", "includes", "a", false},
		{"body.name", "in", []any{"alice", "bob"}, true},
		{"body.name", "!in", []any{"carol"}, true},
		{"body.name", "in", "alice", false},
		{"body.age", "type", "number", true},
		{"body.tags", "type", "array", true},
		{"body.nested", "type", "object", true},
		{"body.nothing", "type", "null", true},
		{"body.name", "type", "boolean", false},
		{"body.tags", "each", map[string]any{"op": "type", "value": "string"}, true},
		{"body.tags", "each", "a", false},
		{"body.name", "each", "a", false},
		{"jsonpath items.1.id", "==", 2, true},
		{"body.items[1].id", "==", 2, true},
		{"name", "equals", "alice", true},
		{"body.age", "notEquals", 31, true},
	}

	for _, tt := range tests {
		t.Run(tt.subject+" "+tt.op, func(t *testing.T) {
			c := e.check(Assertion{Subject: tt.subject, Op: tt.op, Value: tt.value})
			assert.Equal(t, tt.passed, c.Passed, c.Message)
			if !tt.passed {
				assert.NotEmpty(t, c.Message)
			}
		})
	}
}

func TestEvaluator_CheckFields(t *testing.T) {
	e := newEvaluator(jsonResponse(), "")

	c := e.check(Assertion{Subject: "body.tags", Op: "length", Value: 3})
	assert.False(t, c.Passed)
	assert.Equal(t, "length", c.Operator)
	assert.Equal(t, 2, c.Actual)
	assert.Equal(t, "expected length 3, got 2", c.Message)

	c = e.check(Assertion{Subject: "body.id", Op: "!exists"})
	assert.True(t, c.Passed)
	assert.Nil(t, c.Expected)

	c = e.check(Assertion{Subject: "status", Op: "startsWith"})
	assert.Equal(t, "startswith", c.Operator)

	c = e.check(Assertion{Subject: "status", Op: "approximately", Value: 200})
	assert.False(t, c.Passed)
	assert.Equal(t, "approximately", c.Operator)
	assert.Contains(t, c.Message, "unknown operator")
}

func TestEvaluator_Schema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.schema.json"),
		[]byte(`{"type": "object", "required": ["name", "age"]}`), 0644))

	e := newEvaluator(jsonResponse(), dir)

	c := e.check(Assertion{Subject: "body", Op: "schema", Value: "user.schema.json"})
	assert.True(t, c.Passed, c.Message)

	c = e.check(Assertion{Subject: "body.nested", Op: "schema", Value: "user.schema.json"})
	assert.False(t, c.Passed)

	c = e.check(Assertion{Subject: "body.tags", Op: "schema", Value: `{"type": "array", "items": {"type": "string"}}`})
	assert.True(t, c.Passed, c.Message)

	c = e.check(Assertion{Subject: "body", Op: "schema", Value: "../outside.json"})
	assert.False(t, c.Passed)
	assert.Contains(t, c.Message, "outside the suite directory")
}

func TestEvaluator_TextBody(t *testing.T) {
	resp := nativehttp.NewResponse(200, "ok", nil)
	resp.Body = []byte("plain hello")
	e := newEvaluator(resp, "")

	assert.True(t, e.check(Assertion{Subject: "body", Op: "startsWith", Value: "plain"}).Passed)
	assert.True(t, e.check(Assertion{Subject: "body.anything", Op: "contains", Value: "hello"}).Passed)

	c := e.check(Assertion{Subject: "jsonpath a.b", Op: "exists"})
	assert.False(t, c.Passed)
	assert.Equal(t, "response body is not JSON", c.Message)
}

func TestParseOperator(t *testing.T) {
	for _, name := range []string{"", "==", "equals", "!=", "notEquals", ">", ">=", "<", "<=",
		"contains", "!contains", "startsWith", "endsWith", "matches", "exists", "!exists",
		"length", "includes", "!includes", "in", "!in", "type", "each", "schema"} {
		_, ok := parseOperator(name)
		assert.True(t, ok, name)
	}
	_, ok := parseOperator("~=")
	assert.False(t, ok)
}
