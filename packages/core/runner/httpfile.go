package runner

import (
	"encoding/json"
	"fmt"
	"net/textproto"
	"regexp"
	"strings"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/parser"
)

// ParseHTTPFile reads a .http file into a suite.
func ParseHTTPFile(path string) (*Suite, error) {
	file, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	suite := FromHTTPFile(file)
	if err := suite.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

// FromHTTPFile converts a parsed .http file. Later variables override
// earlier ones with the same name.
func FromHTTPFile(file *parser.File) *Suite {
	suite := &Suite{Path: file.Path}
	if len(file.Variables) > 0 {
		suite.Variables = make(map[string]any, len(file.Variables))
		for _, v := range file.Variables {
			suite.Variables[v.Name] = v.Value
		}
	}
	for _, req := range file.Requests {
		suite.Requests = append(suite.Requests, requestFromHTTP(req))
	}
	return suite
}

func requestFromHTTP(req *parser.Request) *RequestSpec {
	spec := &RequestSpec{
		Name:   req.Name,
		Tags:   req.Tags,
		Method: req.Method,
		URL:    req.URL,
	}

	if len(req.Headers) > 0 {
		spec.Headers = make(map[string]string, len(req.Headers))
		for _, h := range req.Headers {
			spec.Headers[h.Key] = h.Value
		}
	}
	if len(req.QueryParams) > 0 {
		spec.Query = make(map[string]string, len(req.QueryParams))
		for _, q := range req.QueryParams {
			spec.Query[q.Key] = q.Value
		}
	}

	if body := req.Body; body != nil {
		switch body.ContentType {
		case parser.BodyJSON:
			spec.Body = body.Raw
			defaultHeader(spec, "Content-Type", "application/json")
		case parser.BodyXML:
			spec.Body = body.Raw
			defaultHeader(spec, "Content-Type", "application/xml")
		case parser.BodyForm:
			spec.Form = make(map[string]string, len(body.Form))
			for _, f := range body.Form {
				spec.Form[f.Name] = f.Value
			}
		case parser.BodyMultipart:
			for _, f := range body.Multipart {
				if f.Type == parser.MultipartFieldFile {
					spec.Multipart = append(spec.Multipart, MultipartSpec{Name: f.Name, File: f.Path})
					continue
				}
				spec.Multipart = append(spec.Multipart, MultipartSpec{Name: f.Name, Value: f.Value})
			}
		case parser.BodyGraphQL:
			spec.Body = graphQLBody(body.GraphQL)
			defaultHeader(spec, "Content-Type", "application/json")
		default:
			spec.Body = body.Raw
		}
	}

	if meta := req.Metadata; meta != nil {
		spec.Skip = meta.Skip
		spec.Timeout = meta.Timeout
		spec.Repeat = meta.Repeat
		spec.Retry = meta.Retry
		spec.RetryDelay = meta.RetryDelay
		spec.Stream = meta.Stream
		spec.Adapter = meta.Adapter
		if meta.Auth != nil {
			spec.Auth = &AuthSpec{Type: meta.Auth.Scheme, Params: meta.Auth.Params}
		}
	}

	if len(req.Captures) > 0 {
		spec.Capture = make(map[string]string, len(req.Captures))
		for _, c := range req.Captures {
			spec.Capture[c.Name] = captureSource(c)
		}
	}

	if len(req.Assertions) > 0 {
		spec.Expect = &Expectation{}
		for _, a := range req.Assertions {
			spec.Expect.Assert = append(spec.Expect.Assert, Assertion{
				Subject: a.Subject,
				Op:      a.Operator.String(),
				Value:   a.Expected,
			})
		}
	}
	return spec
}

func defaultHeader(spec *RequestSpec, key, value string) {
	for k := range spec.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == key {
			return
		}
	}
	if spec.Headers == nil {
		spec.Headers = make(map[string]string)
	}
	spec.Headers[key] = value
}

// graphQLBody builds the request document by hand so variables may still
// hold {{...}} placeholders that are not valid JSON until resolved.
func graphQLBody(gql *parser.GraphQLBody) string {
	query, _ := json.Marshal(gql.Query)
	if gql.Variables == "" {
		return `{"query":` + string(query) + `}`
	}
	return `{"query":` + string(query) + `,"variables":` + gql.Variables + `}`
}

func captureSource(c *parser.Capture) string {
	switch c.Source {
	case parser.CaptureStatus:
		return captureStatus
	case parser.CaptureDuration:
		return captureDuration
	case parser.CaptureHeader:
		return "header:" + c.Path
	}
	if c.Path == "" {
		return "@this"
	}
	return bracketsToDots(c.Path)
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// bracketsToDots rewrites "items[0].id" as the gjson path "items.0.id".
func bracketsToDots(path string) string {
	return strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
}
