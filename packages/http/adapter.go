package http

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"
)

// Adapter moves a prepared request over the network and returns the response.
// Adapters must not follow redirects; the client does that.
type Adapter interface {
	Send(ctx context.Context, req *PreparedRequest, opts SendOptions) (*Response, error)
	Close() error
}

// SendOptions are the per-request transport settings passed to an Adapter.
type SendOptions struct {
	// Stream leaves the body unread in Response.Raw.
	Stream  bool
	Timeout time.Duration
	// Verify enables TLS certificate verification.
	Verify bool
	Cert   *tls.Certificate
	// Proxies maps a URL scheme ("http", "https") or "all" to a proxy URL.
	Proxies map[string]string
}

// ProxyFor returns the proxy to use for a URL scheme.
func (o SendOptions) ProxyFor(scheme string) string {
	if p, ok := o.Proxies[strings.ToLower(scheme)]; ok {
		return p
	}
	return o.Proxies["all"]
}

// AuthScheme identifies challenge-response credentials carried by a
// PreparedRequest.
type AuthScheme string

const (
	AuthSchemeBasic  AuthScheme = "basic"
	AuthSchemeDigest AuthScheme = "digest"
)

// Credentials are attached to a PreparedRequest so adapters that cannot
// forward the Authorization header can answer the server's challenge.
type Credentials struct {
	Scheme   AuthScheme
	Username string
	Password string
}

// PreparedRequest is a fully built request ready to be sent by an Adapter.
type PreparedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Auth   *Credentials
}

// Clone returns a deep copy.
func (p *PreparedRequest) Clone() *PreparedRequest {
	c := *p
	c.Header = p.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if p.Body != nil {
		c.Body = append([]byte(nil), p.Body...)
	}
	if p.Auth != nil {
		auth := *p.Auth
		c.Auth = &auth
	}
	return &c
}
