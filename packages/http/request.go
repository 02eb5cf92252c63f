package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuthType selects how Request.Auth is applied.
type AuthType string

const (
	AuthNone        AuthType = ""
	AuthBasic       AuthType = "basic"
	AuthBearer      AuthType = "bearer"
	AuthAPIKey      AuthType = "apikey"
	AuthAPIKeyQuery AuthType = "apikey_query"
	AuthDigest      AuthType = "digest"
	AuthAWS         AuthType = "aws"
)

// ParseAuthType accepts the names used in suite files.
func ParseAuthType(s string) (AuthType, error) {
	switch t := AuthType(strings.ToLower(strings.TrimSpace(s))); t {
	case AuthNone, AuthBasic, AuthBearer, AuthAPIKey, AuthAPIKeyQuery, AuthDigest, AuthAWS:
		return t, nil
	default:
		return AuthNone, fmt.Errorf("unknown auth type %q", s)
	}
}

// AuthConfig is an auth scheme and its positional parameters, e.g.
// basic: [user, password], aws: [access key, secret key, region, service].
type AuthConfig struct {
	Type   AuthType
	Params []string
}

type MultipartFieldType int

const (
	MultipartFieldValue MultipartFieldType = iota
	MultipartFieldFile
)

// MultipartField is a form value or a file to upload.
type MultipartField struct {
	Type  MultipartFieldType
	Name  string
	Value string
	Path  string
}

type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        string
	Timeout     time.Duration
	Auth        *AuthConfig
	QueryParams map[string]string
	Multipart   []*MultipartField
	BaseDir     string // Base directory for resolving relative file paths
	// Stream leaves the response body unread in Response.Raw.
	Stream bool
	// Adapter selects a client adapter registered with WithNamedAdapter
	// instead of the one mounted for the URL.
	Adapter    string
	DigestAuth *DigestAuthCredentials
	AWSAuth    *AWSAuthCredentials
	basicAuth  *Credentials
}

// DigestAuthCredentials holds credentials for digest auth
type DigestAuthCredentials struct {
	Username string
	Password string
}

// AWSAuthCredentials holds credentials for AWS Signature v4 authentication
type AWSAuthCredentials struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

func NewRequest(method, requestURL string) *Request {
	return &Request{
		Method:      method,
		URL:         requestURL,
		Headers:     make(map[string]string),
		QueryParams: make(map[string]string),
	}
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

func (r *Request) SetBody(body string) *Request {
	r.Body = body
	return r
}

func (r *Request) SetTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

func (r *Request) SetQueryParam(key, value string) *Request {
	r.QueryParams[key] = value
	return r
}

// SetForm sets a url-encoded form body.
func (r *Request) SetForm(values url.Values) *Request {
	r.Body = values.Encode()
	if r.header("Content-Type") == "" {
		r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	return r
}

// SetJSON encodes v as the body.
func (r *Request) SetJSON(v any) (*Request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("failed to encode JSON body: %w", err)
	}
	r.Body = string(data)
	if r.header("Content-Type") == "" {
		r.Headers["Content-Type"] = "application/json"
	}
	return r, nil
}

func (r *Request) SetBasicAuth(username, password string) *Request {
	r.Auth = &AuthConfig{Type: AuthBasic, Params: []string{username, password}}
	return r
}

func (r *Request) SetBearerToken(token string) *Request {
	r.Auth = &AuthConfig{Type: AuthBearer, Params: []string{token}}
	return r
}

func (r *Request) SetDigestAuth(username, password string) *Request {
	r.Auth = &AuthConfig{Type: AuthDigest, Params: []string{username, password}}
	return r
}

func (r *Request) header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (r *Request) BuildURL() string {
	if len(r.QueryParams) == 0 {
		return r.URL
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}

	q := u.Query()
	for k, v := range r.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Request) ApplyAuth() {
	if r.Auth == nil {
		return
	}

	switch r.Auth.Type {
	case AuthBasic:
		if len(r.Auth.Params) >= 2 {
			creds := r.Auth.Params[0] + ":" + r.Auth.Params[1]
			encoded := base64.StdEncoding.EncodeToString([]byte(creds))
			r.Headers["Authorization"] = "Basic " + encoded
			r.basicAuth = &Credentials{
				Scheme:   AuthSchemeBasic,
				Username: r.Auth.Params[0],
				Password: r.Auth.Params[1],
			}
		}
	case AuthBearer:
		if len(r.Auth.Params) >= 1 {
			r.Headers["Authorization"] = "Bearer " + r.Auth.Params[0]
		}
	case AuthAPIKey:
		if len(r.Auth.Params) >= 2 {
			r.Headers[r.Auth.Params[0]] = r.Auth.Params[1]
		}
	case AuthAPIKeyQuery:
		if len(r.Auth.Params) >= 2 {
			r.QueryParams[r.Auth.Params[0]] = r.Auth.Params[1]
		}
	case AuthDigest:
		// Digest auth requires challenge-response, handled by the client
		if len(r.Auth.Params) >= 2 {
			r.DigestAuth = &DigestAuthCredentials{
				Username: r.Auth.Params[0],
				Password: r.Auth.Params[1],
			}
		}
	case AuthAWS:
		if len(r.Auth.Params) >= 4 {
			r.AWSAuth = &AWSAuthCredentials{
				AccessKey: r.Auth.Params[0],
				SecretKey: r.Auth.Params[1],
				Region:    r.Auth.Params[2],
				Service:   r.Auth.Params[3],
			}
		}
	}
}

// Prepare builds the PreparedRequest sent by adapters. defaultHeaders are
// applied first and overridden by the request's own headers.
func (r *Request) Prepare(defaultHeaders map[string]string) (*PreparedRequest, error) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	if r.QueryParams == nil {
		r.QueryParams = make(map[string]string)
	}
	r.ApplyAuth()

	target := r.BuildURL()
	if err := ValidateURL(target); err != nil {
		return nil, err
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	prep := &PreparedRequest{
		Method: method,
		URL:    target,
		Header: make(http.Header),
	}

	var contentType string
	if len(r.Multipart) > 0 {
		body, ct, err := BuildMultipartBody(r.Multipart, r.BaseDir)
		if err != nil {
			return nil, err
		}
		prep.Body = body.Bytes()
		contentType = ct
	} else if r.Body != "" {
		prep.Body = []byte(r.Body)
	}

	for k, v := range defaultHeaders {
		prep.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		prep.Header.Set(k, v)
	}
	// Set multipart content type if present (must be after headers to override)
	if contentType != "" {
		prep.Header.Set("Content-Type", contentType)
	}

	switch {
	case r.DigestAuth != nil:
		prep.Auth = &Credentials{
			Scheme:   AuthSchemeDigest,
			Username: r.DigestAuth.Username,
			Password: r.DigestAuth.Password,
		}
	case r.basicAuth != nil:
		prep.Auth = r.basicAuth
	}

	if r.AWSAuth != nil {
		if err := SignAWSRequest(prep, r.AWSAuth, time.Now()); err != nil {
			return nil, err
		}
	}

	return prep, nil
}

// ValidateURL checks that a URL is well-formed and uses an allowed scheme
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	// Check for valid scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}

	// Check for valid host
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// validatePathWithinBase checks that the resolved path stays within the base directory
// to prevent path traversal attacks
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}

// BuildMultipartBody creates a multipart form data body from multipart fields
func BuildMultipartBody(fields []*MultipartField, baseDir string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, field := range fields {
		if field.Type != MultipartFieldFile {
			if err := writer.WriteField(field.Name, field.Value); err != nil {
				return nil, "", err
			}
			continue
		}

		filePath := field.Path
		if !filepath.IsAbs(filePath) && baseDir != "" {
			filePath = filepath.Join(baseDir, filePath)
		}
		if err := validatePathWithinBase(filePath, baseDir); err != nil {
			return nil, "", err
		}
		if err := writeFilePart(writer, field.Name, filePath); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	part, err := writer.CreateFormFile(name, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func ParseFormBody(body string) map[string]string {
	result := make(map[string]string)
	pairs := strings.Split(body, "&")
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			key, _ := url.QueryUnescape(kv[0])
			value, _ := url.QueryUnescape(kv[1])
			result[key] = value
		}
	}
	return result
}
