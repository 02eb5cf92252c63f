package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/nativehttp/packages/core/env"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Runner struct {
	client   *http.Client
	resolver *env.Resolver
	tokens   *oauth2.TokenCache
	limiter  *rate.Limiter
	config   *Config
	logger   *zap.Logger
}

type Config struct {
	// Rate caps dispatch in requests per second; 0 is unlimited.
	Rate       float64
	Bail       bool
	NameFilter string
	// Tags keeps only requests carrying at least one of them.
	Tags      []string
	Variables map[string]any
	Logger    *zap.Logger
}

// NewRunner creates a runner that sends requests with client.
func NewRunner(client *http.Client, cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		client:   client,
		resolver: env.NewResolver(),
		tokens:   oauth2.NewTokenCache(),
		config:   cfg,
		logger:   logger,
	}
	r.resolver.SetWarnFunc(func(format string, args ...any) {
		logger.Warn(fmt.Sprintf(format, args...))
	})
	if cfg.Rate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return r
}

type RunResult struct {
	File     string
	Name     string
	Results  []*RequestResult
	Duration time.Duration
	Passed   int
	Failed   int
	Skipped  int
}

type RequestResult struct {
	Name       string
	Method     string
	URL        string
	Passed     bool
	Skipped    bool
	SkipReason string
	Duration   time.Duration
	Response   *http.Response
	Checks     []*Check
	Captures   map[string]any
	Latency    *LatencyStats
	Error      error
}

// Failed returns the checks that did not pass.
func (r *RequestResult) Failed() []*Check {
	var failed []*Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// RunFile loads a suite and runs it. A .env file next to the suite is
// loaded first.
func (r *Runner) RunFile(ctx context.Context, path string) (*RunResult, error) {
	if _, err := env.LoadDirDotEnv(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	suite, err := LoadSuite(path)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, suite)
}

// Run executes the suite's requests in order. Captures from earlier
// requests are visible to later ones.
func (r *Runner) Run(ctx context.Context, suite *Suite) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{File: suite.Path, Name: suite.Name}

	r.resolver.SetVariables(env.MergeVariables(suite.Variables, r.config.Variables))
	baseDir := filepath.Dir(suite.Path)

	for _, spec := range suite.Requests {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if reason := r.skipReason(spec); reason != "" {
			result.Results = append(result.Results, &RequestResult{
				Name:       spec.Name,
				Method:     spec.Method,
				Skipped:    true,
				SkipReason: reason,
			})
			result.Skipped++
			continue
		}

		reqResult := r.runRequest(ctx, suite, spec, baseDir)
		result.Results = append(result.Results, reqResult)
		if reqResult.Passed {
			result.Passed++
			continue
		}
		result.Failed++
		if r.config.Bail {
			break
		}
	}

	result.Duration = time.Since(start)
	r.logger.Debug("suite finished",
		zap.String("suite", suite.Name),
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (r *Runner) skipReason(spec *RequestSpec) string {
	if spec.Skip != "" {
		return spec.Skip
	}
	if r.config.NameFilter != "" && !matchesPattern(spec.Name, r.config.NameFilter) {
		return "filtered out"
	}
	if len(r.config.Tags) > 0 && !hasAnyTag(spec.Tags, r.config.Tags) {
		return "filtered out by tags"
	}
	return ""
}

func hasAnyTag(tags, want []string) bool {
	for _, t := range tags {
		for _, w := range want {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

func (r *Runner) runRequest(ctx context.Context, suite *Suite, spec *RequestSpec, baseDir string) *RequestResult {
	result := &RequestResult{
		Name:     spec.Name,
		Method:   spec.Method,
		Captures: make(map[string]any),
	}

	attempts := spec.Repeat
	if attempts <= 0 {
		attempts = 1
	}
	var latency *latencyRecorder
	if attempts > 1 {
		latency = newLatencyRecorder()
	}

	result.Passed = true
	for i := 0; i < attempts; i++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				result.Error = err
				result.Passed = false
				return result
			}
		}

		req, err := r.buildRequest(ctx, suite, spec, baseDir)
		if err != nil {
			result.Error = err
			result.Passed = false
			return result
		}
		result.URL = req.BuildURL()

		start := time.Now()
		resp, err := r.send(ctx, spec, req)
		elapsed := time.Since(start)
		result.Duration += elapsed
		if latency != nil {
			latency.record(elapsed)
		}
		if err != nil {
			result.Error = err
			result.Passed = false
			break
		}
		result.Response = resp

		checks := evaluate(r.resolveExpectation(spec.Expect), resp, baseDir)
		if result.Checks == nil || !allPassed(checks) {
			result.Checks = checks
		}
		if !allPassed(checks) {
			result.Passed = false
		}
	}

	if latency != nil {
		result.Latency = latency.stats()
	}
	if result.Passed && result.Response != nil {
		r.capture(spec, result)
	}
	return result
}

// send sends req, retrying up to spec.Retry more times while no response
// arrives. A streamed body is read before returning.
func (r *Runner) send(ctx context.Context, spec *RequestSpec, req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := r.client.DoContext(ctx, req)
		if err == nil {
			err = resp.ReadBody()
		}
		if err == nil {
			return resp, nil
		}
		if attempt >= spec.Retry || ctx.Err() != nil {
			return nil, err
		}

		r.logger.Debug("retrying request",
			zap.String("request", spec.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if spec.RetryDelay > 0 {
			timer := time.NewTimer(spec.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// resolveExpectation fills {{...}} placeholders in string assertion values.
func (r *Runner) resolveExpectation(exp *Expectation) *Expectation {
	if exp == nil || len(exp.Assert) == 0 {
		return exp
	}
	resolved := *exp
	resolved.Assert = make([]Assertion, len(exp.Assert))
	for i, a := range exp.Assert {
		a.Value = r.resolveValue(a.Value)
		resolved.Assert[i] = a
	}
	return &resolved
}

func (r *Runner) resolveValue(v any) any {
	switch v := v.(type) {
	case string:
		return r.resolver.Resolve(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.resolveValue(item)
		}
		return out
	}
	return v
}

const (
	captureStatus   = "@status"
	captureDuration = "@duration"
)

func (r *Runner) capture(spec *RequestSpec, result *RequestResult) {
	for _, name := range sortedKeys(spec.Capture) {
		source := spec.Capture[name]
		var value any
		switch {
		case strings.HasPrefix(source, "header:"):
			value = result.Response.Header(strings.TrimSpace(strings.TrimPrefix(source, "header:")))
		case source == captureStatus:
			value = result.Response.StatusCode
		case source == captureDuration:
			value = result.Response.DurationMs()
		default:
			v := result.Response.JSON(source)
			if !v.Exists() {
				r.logger.Warn("capture path not found",
					zap.String("request", spec.Name),
					zap.String("path", source))
				continue
			}
			value = v.Value()
		}
		result.Captures[name] = value
		r.resolver.SetCapture(spec.Name, name, value)
	}
}

func (r *Runner) buildRequest(ctx context.Context, suite *Suite, spec *RequestSpec, baseDir string) (*http.Request, error) {
	resolve := r.resolver.Resolve

	req := http.NewRequest(spec.Method, resolve(spec.URL))
	req.Timeout = spec.Timeout
	req.BaseDir = baseDir
	req.Stream = spec.Stream
	req.Adapter = spec.Adapter
	for k, v := range suite.Headers {
		req.SetHeader(k, resolve(v))
	}
	for k, v := range spec.Headers {
		req.SetHeader(k, resolve(v))
	}
	for k, v := range spec.Query {
		req.SetQueryParam(k, resolve(v))
	}

	switch {
	case spec.Body != "":
		req.SetBody(resolve(spec.Body))
	case spec.JSON != nil:
		data, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding json body: %w", spec.Name, err)
		}
		req.SetBody(resolve(string(data)))
		if _, ok := req.Headers["Content-Type"]; !ok {
			req.SetHeader("Content-Type", "application/json")
		}
	case len(spec.Form) > 0:
		values := url.Values{}
		for k, v := range spec.Form {
			values.Set(k, resolve(v))
		}
		req.SetForm(values)
	case len(spec.Multipart) > 0:
		for _, field := range spec.Multipart {
			if field.File != "" {
				req.Multipart = append(req.Multipart, &http.MultipartField{Type: http.MultipartFieldFile, Name: field.Name, Path: resolve(field.File)})
				continue
			}
			req.Multipart = append(req.Multipart, &http.MultipartField{Type: http.MultipartFieldValue, Name: field.Name, Value: resolve(field.Value)})
		}
	}

	if spec.Auth != nil {
		params := make([]string, len(spec.Auth.Params))
		for i, p := range spec.Auth.Params {
			params[i] = resolve(p)
		}
		if strings.EqualFold(spec.Auth.Type, authOAuth2) {
			token, err := r.oauth2Token(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Name, err)
			}
			req.SetBearerToken(token.AccessToken)
		} else {
			authType, err := http.ParseAuthType(spec.Auth.Type)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Name, err)
			}
			req.Auth = &http.AuthConfig{Type: authType, Params: params}
		}
	}

	if missing := r.resolver.Unresolved(req.URL); len(missing) > 0 {
		return nil, fmt.Errorf("%s: unresolved variables in url: %s", spec.Name, strings.Join(missing, ", "))
	}
	return req, nil
}

// authOAuth2 is resolved by the runner into a bearer token before the
// request reaches the client.
const authOAuth2 = "oauth2"

func (r *Runner) oauth2Token(ctx context.Context, params []string) (*oauth2.Token, error) {
	cfg, err := oauth2.ParseParams(params)
	if err != nil {
		return nil, err
	}
	return oauth2.NewProvider(cfg, r.client, r.tokens).Token(ctx)
}

func allPassed(checks []*Check) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// matchesPattern supports a leading and/or trailing '*'.
func matchesPattern(name, pattern string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	return name == pattern
}
