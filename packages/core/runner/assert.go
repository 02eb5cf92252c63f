package runner

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/parser"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/tidwall/gjson"
)

// Assertion applies an operator to a response subject.
//
// Subjects are "status", "duration" (milliseconds), "header Name",
// "body" or "body.path", "jsonpath path", or a bare body path.
type Assertion struct {
	Subject string `yaml:"subject"`
	// Op is an operator such as "==", ">", "startsWith", "matches",
	// "!exists" or "length". Empty means "==".
	Op    string `yaml:"op,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

var operatorAliases = map[string]string{
	"":          "==",
	"equals":    "==",
	"notequals": "!=",
}

func parseOperator(name string) (parser.AssertionOperator, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := operatorAliases[name]; ok {
		name = alias
	}
	return parser.ParseOperator(name)
}

type evaluator struct {
	resp    *http.Response
	body    gjson.Result
	baseDir string
}

func newEvaluator(resp *http.Response, baseDir string) *evaluator {
	e := &evaluator{resp: resp, baseDir: baseDir}
	if resp.IsJSON() || gjson.ValidBytes(resp.Body) {
		e.body = gjson.ParseBytes(resp.Body)
	}
	return e
}

func (e *evaluator) check(a Assertion) *Check {
	c := &Check{Subject: a.Subject, Operator: a.Op, Expected: a.Value}

	op, ok := parseOperator(a.Op)
	if !ok {
		c.Message = fmt.Sprintf("unknown operator %q", a.Op)
		return c
	}
	c.Operator = op.String()
	if !op.TakesValue() {
		c.Expected = nil
	}

	actual, err := e.actual(a.Subject)
	if err != nil {
		c.Message = err.Error()
		return c
	}
	c.Actual = actual
	c.Passed, c.Message = e.compare(actual, op, a.Value)

	if op == parser.OpLength {
		c.Actual = length(actual)
	}
	return c
}

func (e *evaluator) actual(subject string) (any, error) {
	switch {
	case subject == "status":
		return e.resp.StatusCode, nil
	case subject == "duration":
		return e.resp.DurationMs(), nil
	case subject == "header" || strings.HasPrefix(subject, "header "):
		name := strings.TrimSpace(strings.TrimPrefix(subject, "header"))
		if name == "" {
			return e.resp.Headers, nil
		}
		return e.resp.Header(name), nil
	case strings.HasPrefix(subject, "jsonpath "):
		if !e.body.Exists() {
			return nil, fmt.Errorf("response body is not JSON")
		}
		return e.lookup(strings.TrimSpace(strings.TrimPrefix(subject, "jsonpath"))), nil
	case subject == "body":
		if !e.body.Exists() {
			return e.resp.BodyString(), nil
		}
		return e.body.Value(), nil
	case strings.HasPrefix(subject, "body.") || strings.HasPrefix(subject, "body["):
		return e.bodyPath(strings.TrimPrefix(subject, "body")), nil
	default:
		return e.bodyPath(subject), nil
	}
}

func (e *evaluator) bodyPath(path string) any {
	if !e.body.Exists() {
		return e.resp.BodyString()
	}
	return e.lookup(path)
}

// lookup returns nil for a missing path so exists can tell it apart.
func (e *evaluator) lookup(path string) any {
	v := e.body.Get(bracketsToDots(path))
	if !v.Exists() {
		return nil
	}
	return v.Value()
}

func (e *evaluator) compare(actual any, op parser.AssertionOperator, expected any) (bool, string) {
	switch op {
	case parser.OpEquals:
		return equals(actual, expected)
	case parser.OpNotEquals:
		ok, _ := equals(actual, expected)
		return negate(ok, fmt.Sprintf("expected not to equal %v", expected))
	case parser.OpGreaterThan, parser.OpGreaterOrEqual, parser.OpLessThan, parser.OpLessOrEqual:
		return compareNumeric(actual, expected, op.String())
	case parser.OpContains:
		return contains(actual, expected)
	case parser.OpNotContains:
		ok, _ := contains(actual, expected)
		return negate(ok, fmt.Sprintf("expected not to contain %v", expected))
	case parser.OpStartsWith:
		if strings.HasPrefix(fmt.Sprint(actual), fmt.Sprint(expected)) {
			return true, ""
		}
		return false, fmt.Sprintf("expected '%v' to start with '%v'", actual, expected)
	case parser.OpEndsWith:
		if strings.HasSuffix(fmt.Sprint(actual), fmt.Sprint(expected)) {
			return true, ""
		}
		return false, fmt.Sprintf("expected '%v' to end with '%v'", actual, expected)
	case parser.OpMatches:
		return matches(actual, expected)
	case parser.OpExists:
		return exists(actual)
	case parser.OpNotExists:
		ok, _ := exists(actual)
		return negate(ok, "expected not to exist")
	case parser.OpLength:
		return hasLength(actual, expected)
	case parser.OpIncludes:
		return includes(actual, expected)
	case parser.OpNotIncludes:
		ok, _ := includes(actual, expected)
		return negate(ok, fmt.Sprintf("expected not to include %v", expected))
	case parser.OpIn:
		return in(actual, expected)
	case parser.OpNotIn:
		ok, _ := in(actual, expected)
		return negate(ok, fmt.Sprintf("expected not to be in %v", expected))
	case parser.OpType:
		return typeCheck(actual, expected)
	case parser.OpSchema:
		return e.schema(actual, expected)
	case parser.OpEach:
		return e.each(actual, expected)
	}
	return false, fmt.Sprintf("unknown operator: %v", op)
}

func negate(passed bool, msg string) (bool, string) {
	if passed {
		return false, msg
	}
	return true, ""
}

func equals(actual, expected any) (bool, string) {
	if reflect.DeepEqual(actual, expected) {
		return true, ""
	}
	a, aOk := toFloat64(actual)
	b, bOk := toFloat64(expected)
	if aOk && bOk && a == b {
		return true, ""
	}
	if fmt.Sprint(actual) == fmt.Sprint(expected) {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

func compareNumeric(actual, expected any, op string) (bool, string) {
	a, aOk := toFloat64(actual)
	b, bOk := toFloat64(expected)
	if !aOk || !bOk {
		return false, fmt.Sprintf("cannot compare non-numeric values: %v %s %v", actual, op, expected)
	}

	var passed bool
	switch op {
	case ">":
		passed = a > b
	case ">=":
		passed = a >= b
	case "<":
		passed = a < b
	case "<=":
		passed = a <= b
	}
	if passed {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v %s %v", actual, op, expected)
}

func contains(actual, expected any) (bool, string) {
	if strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to contain '%v'", actual, expected)
}

// matches accepts the pattern with or without surrounding slashes.
func matches(actual, expected any) (bool, string) {
	pattern := strings.TrimSuffix(strings.TrimPrefix(fmt.Sprint(expected), "/"), "/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern: %v", err)
	}
	if re.MatchString(fmt.Sprint(actual)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to match /%v/", actual, pattern)
}

func exists(actual any) (bool, string) {
	if actual == nil {
		return false, "expected to exist"
	}
	return true, ""
}

// length is -1 for values without one.
func length(v any) int {
	switch v := v.(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len()
	}
	return -1
}

func hasLength(actual, expected any) (bool, string) {
	want, ok := toInt(expected)
	if !ok {
		return false, fmt.Sprintf("expected length must be a number, got %v", expected)
	}
	got := length(actual)
	if got == -1 {
		return false, fmt.Sprintf("cannot get length of %T", actual)
	}
	if got == want {
		return true, ""
	}
	return false, fmt.Sprintf("expected length %d, got %d", want, got)
}

func includes(actual, expected any) (bool, string) {
	arr, ok := actual.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array, got %T", actual)
	}
	for _, item := range arr {
		if ok, _ := equals(item, expected); ok {
			return true, ""
		}
	}
	return false, fmt.Sprintf("expected array to include %v", expected)
}

func in(actual, expected any) (bool, string) {
	arr, ok := expected.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array for 'in' operator, got %T", expected)
	}
	for _, item := range arr {
		if ok, _ := equals(actual, item); ok {
			return true, ""
		}
	}
	return false, fmt.Sprintf("expected %v to be in %v", actual, expected)
}

func typeCheck(actual, expected any) (bool, string) {
	want := strings.ToLower(fmt.Sprint(expected))

	var got string
	switch actual.(type) {
	case nil:
		got = "null"
	case bool:
		got = "boolean"
	case float64, float32, int, int64, int32:
		got = "number"
	case string:
		got = "string"
	case []any:
		got = "array"
	case map[string]any:
		got = "object"
	default:
		got = reflect.TypeOf(actual).String()
	}

	if got == want {
		return true, ""
	}
	return false, fmt.Sprintf("expected type %s, got %s", want, got)
}

// schema validates the subject, re-encoded as JSON, against a schema file
// inside the suite directory or an inline schema.
func (e *evaluator) schema(actual, expected any) (bool, string) {
	doc, err := json.Marshal(actual)
	if err != nil {
		return false, fmt.Sprintf("failed to marshal actual value: %v", err)
	}
	c := schemaCheck(doc, fmt.Sprint(expected), e.baseDir)
	return c.Passed, c.Message
}

// each applies expected to every element. expected is either a plain value
// compared for equality or a map with "op" and "value".
func (e *evaluator) each(actual, expected any) (bool, string) {
	arr, ok := actual.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array for 'each' operator, got %T", actual)
	}

	op, value := parser.OpEquals, expected
	if m, ok := expected.(map[string]any); ok {
		if name, hasOp := m["op"]; hasOp {
			parsed, ok := parseOperator(fmt.Sprint(name))
			if !ok || parsed == parser.OpEach {
				return false, fmt.Sprintf("unknown operator in each: %v", name)
			}
			op, value = parsed, m["value"]
		}
	}

	for i, item := range arr {
		if ok, msg := e.compare(item, op, value); !ok {
			return false, fmt.Sprintf("item[%d]: %s", i, msg)
		}
	}
	return true, ""
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
