package urlsession

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CachePolicy controls how a request interacts with the session's URLCache.
type CachePolicy int

const (
	// UseProtocolCachePolicy serves fresh cached responses, revalidates stale
	// ones that carry a validator and loads everything else.
	UseProtocolCachePolicy CachePolicy = iota
	// ReloadIgnoringLocalCacheData always loads from the network.
	ReloadIgnoringLocalCacheData
	// ReturnCacheDataElseLoad serves any cached response regardless of age.
	ReturnCacheDataElseLoad
	// ReturnCacheDataDontLoad serves only from the cache and never loads.
	ReturnCacheDataDontLoad
)

var cachePolicyNames = map[CachePolicy]string{
	UseProtocolCachePolicy:       "protocol",
	ReloadIgnoringLocalCacheData: "reload",
	ReturnCacheDataElseLoad:      "cache-else-load",
	ReturnCacheDataDontLoad:      "cache-only",
}

func (p CachePolicy) String() string {
	if name, ok := cachePolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("CachePolicy(%d)", int(p))
}

// ParseCachePolicy parses the names produced by CachePolicy.String.
func ParseCachePolicy(s string) (CachePolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return UseProtocolCachePolicy, nil
	}
	for p, name := range cachePolicyNames {
		if name == s {
			return p, nil
		}
	}
	return UseProtocolCachePolicy, fmt.Errorf("unknown cache policy %q", s)
}

// URLRequest is a mutable description of a request to load.
type URLRequest struct {
	URL    *url.URL
	Method string
	Header http.Header
	// Body is sent by data tasks. Upload tasks send the body they were
	// created with and ignore this field.
	Body []byte
	// TimeoutInterval overrides the session's request timeout when non-zero.
	TimeoutInterval time.Duration
	CachePolicy     CachePolicy
}

// NewRequest creates a GET request for rawURL.
func NewRequest(rawURL string) (*URLRequest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(ErrorBadURL, rawURL, err)
	}
	return &URLRequest{
		URL:    u,
		Method: http.MethodGet,
		Header: make(http.Header),
	}, nil
}

// SetValue sets a header field, replacing any existing field with the same
// name regardless of case. The field name is stored exactly as given.
func (r *URLRequest) SetValue(field, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.removeField(field)
	r.Header[field] = []string{value}
}

// AddValue appends a value to a header field.
func (r *URLRequest) AddValue(field, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	for k := range r.Header {
		if strings.EqualFold(k, field) {
			r.Header[k] = append(r.Header[k], value)
			return
		}
	}
	r.Header[field] = []string{value}
}

// Value returns the first value of a header field, matched case-insensitively.
func (r *URLRequest) Value(field string) string {
	for k, vs := range r.Header {
		if strings.EqualFold(k, field) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

func (r *URLRequest) removeField(field string) {
	for k := range r.Header {
		if strings.EqualFold(k, field) {
			delete(r.Header, k)
		}
	}
}

// Clone returns a deep copy of the request.
func (r *URLRequest) Clone() *URLRequest {
	c := *r
	if r.URL != nil {
		u := *r.URL
		c.URL = &u
	}
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

func (r *URLRequest) urlString() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.String()
}
