package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Expectation lists the checks applied to a response. Unset fields are not
// checked. A request without an expectation passes on any 2xx status.
type Expectation struct {
	Status       int               `yaml:"status,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	BodyContains []string          `yaml:"bodyContains,omitempty"`
	// JSON maps gjson paths to expected values.
	JSON map[string]any `yaml:"json,omitempty"`
	// Schema is a JSON schema file relative to the suite, or an inline
	// schema starting with "{".
	Schema      string        `yaml:"schema,omitempty"`
	MaxDuration time.Duration `yaml:"maxDuration,omitempty"`
	// Assert holds operator checks, evaluated after the fields above.
	Assert []Assertion `yaml:"assert,omitempty"`
}

// Check is the outcome of one expectation.
type Check struct {
	Subject string
	// Operator is set for Assert checks.
	Operator string
	Expected any
	Actual   any
	Passed   bool
	Message  string
}

func evaluate(exp *Expectation, resp *http.Response, baseDir string) []*Check {
	if exp == nil {
		return []*Check{{
			Subject:  "status",
			Expected: "2xx",
			Actual:   resp.StatusCode,
			Passed:   resp.IsSuccess(),
		}}
	}

	var checks []*Check
	if exp.Status != 0 {
		checks = append(checks, &Check{
			Subject:  "status",
			Expected: exp.Status,
			Actual:   resp.StatusCode,
			Passed:   resp.StatusCode == exp.Status,
		})
	}

	for _, name := range sortedKeys(exp.Headers) {
		want := exp.Headers[name]
		got := resp.Header(name)
		checks = append(checks, &Check{
			Subject:  "header " + name,
			Expected: want,
			Actual:   got,
			Passed:   got == want,
		})
	}

	body := resp.BodyString()
	for _, s := range exp.BodyContains {
		checks = append(checks, &Check{
			Subject:  "body contains",
			Expected: s,
			Actual:   truncate(body, 100),
			Passed:   strings.Contains(body, s),
		})
	}

	for _, path := range sortedKeys(exp.JSON) {
		checks = append(checks, jsonCheck(resp, path, exp.JSON[path]))
	}

	if exp.Schema != "" {
		checks = append(checks, schemaCheck(resp.Body, exp.Schema, baseDir))
	}

	if exp.MaxDuration > 0 {
		checks = append(checks, &Check{
			Subject:  "duration",
			Expected: "<= " + exp.MaxDuration.String(),
			Actual:   resp.Duration.String(),
			Passed:   resp.Duration <= exp.MaxDuration,
		})
	}

	if len(exp.Assert) > 0 {
		e := newEvaluator(resp, baseDir)
		for _, a := range exp.Assert {
			checks = append(checks, e.check(a))
		}
	}
	return checks
}

func jsonCheck(resp *http.Response, path string, expected any) *Check {
	c := &Check{Subject: "json " + path, Expected: expected}

	actual := resp.JSON(path)
	if !actual.Exists() {
		c.Message = "path not found"
		return c
	}
	c.Actual = actual.Value()

	want, err := normalize(expected)
	if err != nil {
		c.Message = err.Error()
		return c
	}
	c.Passed = reflect.DeepEqual(want, actual.Value())
	return c
}

// normalize converts a YAML-decoded value into the shape gjson produces.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("expected value is not JSON: %w", err)
	}
	return gjson.ParseBytes(data).Value(), nil
}

func schemaCheck(body []byte, schema, baseDir string) *Check {
	c := &Check{Subject: "schema", Expected: "valid"}

	var schemaData []byte
	if strings.HasPrefix(strings.TrimSpace(schema), "{") {
		schemaData = []byte(schema)
		c.Expected = "valid against inline schema"
	} else {
		path := schema
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
			if rel, err := filepath.Rel(baseDir, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				c.Message = fmt.Sprintf("schema %s is outside the suite directory", schema)
				return c
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			c.Message = fmt.Sprintf("cannot read schema: %v", err)
			return c
		}
		schemaData = data
		c.Expected = "valid against " + schema
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaData), gojsonschema.NewBytesLoader(body))
	if err != nil {
		c.Message = fmt.Sprintf("schema validation error: %v", err)
		return c
	}
	if result.Valid() {
		c.Actual = "valid"
		c.Passed = true
		return c
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	c.Actual = "invalid"
	c.Message = strings.Join(errs, "; ")
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
