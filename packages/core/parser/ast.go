package parser

import (
	"fmt"
	"time"
)

// File is a parsed .http file.
type File struct {
	Path      string
	Variables []*Variable
	Requests  []*Request
}

// Variable is a file-level "@name = value" declaration.
type Variable struct {
	Name  string
	Value string
	Line  int
}

type Request struct {
	Name        string
	Description string
	Tags        []string
	Method      string
	URL         string
	Headers     []*Header
	QueryParams []*QueryParam
	Body        *Body
	Assertions  []*Assertion
	Captures    []*Capture
	Metadata    *RequestMetadata
	Line        int
}

// RequestMetadata holds the values of a request's annotations.
type RequestMetadata struct {
	Skip       string
	Timeout    time.Duration
	Repeat     int
	Retry      int
	RetryDelay time.Duration
	// Stream delivers the body through the adapter's stream pipe.
	Stream bool
	// Adapter names the client adapter the request is sent through.
	Adapter string
	Auth    *AuthConfig
}

// AuthConfig is the scheme and positional parameters of an @auth
// annotation, e.g. "basic alice secret" or "oauth2 client_credentials ...".
type AuthConfig struct {
	Scheme string
	Params []string
}

type Header struct {
	Key   string
	Value string
	Line  int
}

type QueryParam struct {
	Key   string
	Value string
	Line  int
}

type Body struct {
	ContentType BodyType
	Raw         string
	Form        []*FormField
	Multipart   []*MultipartField
	GraphQL     *GraphQLBody
	Line        int
}

type BodyType int

const (
	BodyNone BodyType = iota
	BodyJSON
	BodyForm
	BodyMultipart
	BodyRaw
	BodyXML
	BodyGraphQL
)

func (t BodyType) String() string {
	switch t {
	case BodyJSON:
		return "json"
	case BodyForm:
		return "form"
	case BodyMultipart:
		return "multipart"
	case BodyRaw:
		return "raw"
	case BodyXML:
		return "xml"
	case BodyGraphQL:
		return "graphql"
	default:
		return "none"
	}
}

// FormField is one "& name = value" line, or one pair of a single-line
// "a=b&c=d" body.
type FormField struct {
	Name  string
	Value string
}

type MultipartField struct {
	Type  MultipartFieldType
	Name  string
	Value string
	Path  string
}

type MultipartFieldType int

const (
	MultipartFieldValue MultipartFieldType = iota
	MultipartFieldFile
)

type GraphQLBody struct {
	Query     string
	Variables string
}

// Assertion is one "expect <subject> [operator] [value]" line. A missing
// operator means OpEquals.
type Assertion struct {
	Subject  string
	Operator AssertionOperator
	Expected any
	Line     int
}

type AssertionOperator int

const (
	OpEquals AssertionOperator = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterOrEqual
	OpLessThan
	OpLessOrEqual
	OpContains
	OpNotContains
	OpStartsWith
	OpEndsWith
	OpMatches
	OpExists
	OpNotExists
	OpLength
	OpIncludes
	OpNotIncludes
	OpIn
	OpNotIn
	OpType
	OpEach
	OpSchema
)

var operatorNames = map[AssertionOperator]string{
	OpEquals:         "==",
	OpNotEquals:      "!=",
	OpGreaterThan:    ">",
	OpGreaterOrEqual: ">=",
	OpLessThan:       "<",
	OpLessOrEqual:    "<=",
	OpContains:       "contains",
	OpNotContains:    "!contains",
	OpStartsWith:     "startswith",
	OpEndsWith:       "endswith",
	OpMatches:        "matches",
	OpExists:         "exists",
	OpNotExists:      "!exists",
	OpLength:         "length",
	OpIncludes:       "includes",
	OpNotIncludes:    "!includes",
	OpIn:             "in",
	OpNotIn:          "!in",
	OpType:           "type",
	OpEach:           "each",
	OpSchema:         "schema",
}

var operatorsByName = func() map[string]AssertionOperator {
	m := make(map[string]AssertionOperator, len(operatorNames))
	for op, name := range operatorNames {
		m[name] = op
	}
	return m
}()

func (op AssertionOperator) String() string {
	if name, ok := operatorNames[op]; ok {
		return name
	}
	return "unknown"
}

// ParseOperator looks up an operator by name. Names are case-insensitive
// by the time they reach here; the lexer lower-cases operator words.
func ParseOperator(name string) (AssertionOperator, bool) {
	op, ok := operatorsByName[name]
	return op, ok
}

// TakesValue reports whether the operator is followed by an expected value.
func (op AssertionOperator) TakesValue() bool {
	return op != OpExists && op != OpNotExists
}

type Capture struct {
	Name   string
	Source CaptureSource
	Path   string
	Line   int
}

type CaptureSource int

const (
	CaptureBody CaptureSource = iota
	CaptureHeader
	CaptureStatus
	CaptureDuration
)

func (s CaptureSource) String() string {
	switch s {
	case CaptureBody:
		return "body"
	case CaptureHeader:
		return "header"
	case CaptureStatus:
		return "status"
	case CaptureDuration:
		return "duration"
	default:
		return "unknown"
	}
}

type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}
