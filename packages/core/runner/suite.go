package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Suite is a named list of requests sharing variables and headers.
type Suite struct {
	Name      string            `yaml:"name"`
	Variables map[string]any    `yaml:"variables,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Requests  []*RequestSpec    `yaml:"requests"`

	// Path is the file the suite was loaded from.
	Path string `yaml:"-"`
}

// RequestSpec describes one request and what its response must satisfy.
type RequestSpec struct {
	Name      string            `yaml:"name"`
	Tags      []string          `yaml:"tags,omitempty"`
	Method    string            `yaml:"method,omitempty"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Query     map[string]string `yaml:"query,omitempty"`
	Body      string            `yaml:"body,omitempty"`
	JSON      any               `yaml:"json,omitempty"`
	Form      map[string]string `yaml:"form,omitempty"`
	Multipart []MultipartSpec   `yaml:"multipart,omitempty"`
	Auth      *AuthSpec         `yaml:"auth,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
	// Repeat sends the request this many times and reports latency
	// percentiles.
	Repeat int    `yaml:"repeat,omitempty"`
	Skip   string `yaml:"skip,omitempty"`
	// Retry resends the request up to this many more times when it fails
	// to get a response, waiting RetryDelay in between.
	Retry      int           `yaml:"retry,omitempty"`
	RetryDelay time.Duration `yaml:"retryDelay,omitempty"`
	// Stream reads the body through the adapter's stream pipe.
	Stream bool `yaml:"stream,omitempty"`
	// Adapter names the client adapter to send through, e.g. "http" or
	// "session".
	Adapter string `yaml:"adapter,omitempty"`
	// Capture maps a variable name to a gjson path in the body, to
	// "header:Name", or to "@status" or "@duration".
	Capture map[string]string `yaml:"capture,omitempty"`
	Expect  *Expectation      `yaml:"expect,omitempty"`
}

// AuthSpec is an auth type and its positional parameters, as accepted by
// the client's AuthConfig, or "oauth2" with the parameters of
// oauth2.ParseParams.
type AuthSpec struct {
	Type   string   `yaml:"type"`
	Params []string `yaml:"params"`
}

// MultipartSpec is a form value or, when File is set, a file upload.
type MultipartSpec struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// LoadSuite reads and validates a suite file. Files ending in .http are
// read with the .http parser, anything else as YAML.
func LoadSuite(path string) (*Suite, error) {
	suite, err := readSuite(path)
	if err != nil {
		return nil, err
	}
	suite.Path = path
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return suite, nil
}

func readSuite(path string) (*Suite, error) {
	if strings.EqualFold(filepath.Ext(path), ".http") {
		return ParseHTTPFile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	suite, err := ParseSuite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return suite, nil
}

// ParseSuite decodes a suite from YAML.
func ParseSuite(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if err := suite.validate(); err != nil {
		return nil, err
	}
	return &suite, nil
}

func (s *Suite) validate() error {
	if len(s.Requests) == 0 {
		return fmt.Errorf("suite has no requests")
	}
	for i, req := range s.Requests {
		if req == nil || req.URL == "" {
			return fmt.Errorf("request %d: url is required", i+1)
		}
		if req.Name == "" {
			req.Name = fmt.Sprintf("request %d", i+1)
		}
		if req.Method == "" {
			req.Method = "GET"
		}
		req.Method = strings.ToUpper(req.Method)

		bodies := 0
		for _, set := range []bool{req.Body != "", req.JSON != nil, len(req.Form) > 0, len(req.Multipart) > 0} {
			if set {
				bodies++
			}
		}
		if bodies > 1 {
			return fmt.Errorf("%s: body, json, form and multipart are mutually exclusive", req.Name)
		}
		if req.Repeat < 0 {
			return fmt.Errorf("%s: repeat must not be negative", req.Name)
		}
		if req.Retry < 0 || req.RetryDelay < 0 {
			return fmt.Errorf("%s: retry and retryDelay must not be negative", req.Name)
		}
		if req.Expect != nil {
			for _, a := range req.Expect.Assert {
				if _, ok := parseOperator(a.Op); !ok {
					return fmt.Errorf("%s: unknown operator %q", req.Name, a.Op)
				}
			}
		}
	}
	return nil
}

// FindSuites expands paths into suite files. Directories are searched for
// *.yaml, *.yml and *.http files, non-recursively.
func FindSuites(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml", "*.http"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				if !strings.HasPrefix(filepath.Base(m), ".nativehttp") {
					files = append(files, m)
				}
			}
		}
	}
	return files, nil
}
