package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/auth/digest"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects is the maximum number of redirects to follow
	DefaultMaxRedirects = 10
)

var (
	// ErrNoAdapter is returned when no adapter is mounted for a URL.
	ErrNoAdapter = errors.New("no adapter mounted for URL")
	// ErrUnknownAdapter is returned when a request names an adapter that was
	// never registered.
	ErrUnknownAdapter = errors.New("unknown adapter")
)

type Client struct {
	timeout        time.Duration
	followRedirect bool
	maxRedirects   int
	validateSSL    bool
	proxyURL       string
	defaultHeaders map[string]string
	cert           *tls.Certificate
	stream         bool
	logger         *zap.Logger

	mu     sync.RWMutex
	mounts []mount
	named  map[string]Adapter
}

type mount struct {
	prefix  string
	adapter Adapter
}

type ClientOption func(*Client)

// NewClient creates a client with HTTPAdapter mounted for http:// and
// https://.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:        DefaultTimeout,
		followRedirect: true,
		maxRedirects:   DefaultMaxRedirects,
		validateSSL:    true,
		defaultHeaders: make(map[string]string),
		logger:         zap.NewNop(),
		named:          make(map[string]Adapter),
	}

	builtin := NewHTTPAdapter()
	c.Mount("https://", builtin)
	c.Mount("http://", builtin)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithFollowRedirects(follow bool) ClientOption {
	return func(c *Client) {
		c.followRedirect = follow
	}
}

func WithMaxRedirects(max int) ClientOption {
	return func(c *Client) {
		c.maxRedirects = max
	}
}

func WithDefaultHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.defaultHeaders[key] = value
	}
}

// WithDefaultHeaders sets multiple default headers for all requests
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithValidateSSL enables or disables SSL certificate validation
func WithValidateSSL(validate bool) ClientOption {
	return func(c *Client) {
		c.validateSSL = validate
	}
}

// WithProxy sets the proxy URL for all requests
func WithProxy(proxyURL string) ClientOption {
	return func(c *Client) {
		c.proxyURL = proxyURL
	}
}

// WithClientCertificate presents cert to servers that request one.
func WithClientCertificate(cert *tls.Certificate) ClientOption {
	return func(c *Client) {
		c.cert = cert
	}
}

// WithStream leaves response bodies unread in Response.Raw.
func WithStream(stream bool) ClientOption {
	return func(c *Client) {
		c.stream = stream
	}
}

// WithAdapter mounts a for both http:// and https://.
func WithAdapter(a Adapter) ClientOption {
	return func(c *Client) {
		c.Mount("https://", a)
		c.Mount("http://", a)
	}
}

// WithNamedAdapter registers a under name for requests that set
// Request.Adapter. Names are case-insensitive.
func WithNamedAdapter(name string, a Adapter) ClientOption {
	return func(c *Client) {
		c.named[strings.ToLower(name)] = a
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Mount registers an adapter for URLs starting with prefix. The longest
// matching prefix wins.
func (c *Client) Mount(prefix string, a Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.mounts {
		if c.mounts[i].prefix == prefix {
			c.mounts[i].adapter = a
			return
		}
	}
	c.mounts = append(c.mounts, mount{prefix: prefix, adapter: a})
	sort.SliceStable(c.mounts, func(i, j int) bool {
		return len(c.mounts[i].prefix) > len(c.mounts[j].prefix)
	})
}

// AdapterFor returns the adapter mounted for url.
func (c *Client) AdapterFor(url string) (Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lower := strings.ToLower(url)
	for _, m := range c.mounts {
		if strings.HasPrefix(lower, strings.ToLower(m.prefix)) {
			return m.adapter, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAdapter, url)
}

// NamedAdapter returns the adapter registered under name.
func (c *Client) NamedAdapter(name string) (Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.named[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	return a, nil
}

// Close closes every mounted adapter once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	adapters := make([]Adapter, 0, len(c.mounts)+len(c.named))
	for _, m := range c.mounts {
		adapters = append(adapters, m.adapter)
	}
	for _, name := range sortedNames(c.named) {
		adapters = append(adapters, c.named[name])
	}

	seen := make(map[Adapter]bool)
	var errs []error
	for _, a := range adapters {
		if seen[a] {
			continue
		}
		seen[a] = true
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortedNames(m map[string]Adapter) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) sendOptions(req *Request) SendOptions {
	opts := SendOptions{
		Stream:  c.stream || req.Stream,
		Timeout: c.timeout,
		Verify:  c.validateSSL,
		Cert:    c.cert,
	}
	if req.Timeout > 0 {
		opts.Timeout = req.Timeout
	}
	if c.proxyURL != "" {
		opts.Proxies = map[string]string{"all": c.proxyURL}
	}
	return opts
}

func (c *Client) Do(req *Request) (*Response, error) {
	return c.DoContext(context.Background(), req)
}

// DoContext prepares req, sends it through the mounted adapter and resolves
// redirects and digest challenges.
func (c *Client) DoContext(ctx context.Context, req *Request) (*Response, error) {
	prep, err := req.Prepare(c.defaultHeaders)
	if err != nil {
		return nil, err
	}
	opts := c.sendOptions(req)
	if req.Adapter != "" {
		a, err := c.NamedAdapter(req.Adapter)
		if err != nil {
			return nil, err
		}
		ctx = withAdapter(ctx, a)
	}

	resp, err := c.send(ctx, prep, opts)
	if err != nil {
		return nil, err
	}

	// Digest auth - requires challenge-response
	if resp.StatusCode == http.StatusUnauthorized && prep.Auth != nil && prep.Auth.Scheme == AuthSchemeDigest {
		retry, ok, err := digestRetry(prep, resp)
		if err != nil {
			_ = resp.Close()
			return nil, err
		}
		if ok {
			_ = resp.Close()
			resp, err = c.send(ctx, retry, opts)
			if err != nil {
				return nil, err
			}
			prep = retry
		}
	}

	var history []*Response
	for c.followRedirect && resp.IsRedirect() && resp.Header("Location") != "" {
		if len(history) >= c.maxRedirects {
			break
		}
		next, err := redirectRequest(prep, resp)
		if err != nil {
			break
		}
		_ = resp.Close()
		history = append(history, resp)

		c.logger.Debug("following redirect",
			zap.Int("status", resp.StatusCode),
			zap.String("location", next.URL))

		resp, err = c.send(ctx, next, opts)
		if err != nil {
			return nil, err
		}
		prep = next
	}
	resp.History = history

	return resp, nil
}

type adapterKey struct{}

// withAdapter pins every send made with ctx, redirects and digest retries
// included, to a.
func withAdapter(ctx context.Context, a Adapter) context.Context {
	return context.WithValue(ctx, adapterKey{}, a)
}

func (c *Client) send(ctx context.Context, prep *PreparedRequest, opts SendOptions) (*Response, error) {
	adapter, ok := ctx.Value(adapterKey{}).(Adapter)
	if !ok {
		var err error
		if adapter, err = c.AdapterFor(prep.URL); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("sending request",
		zap.String("method", prep.Method),
		zap.String("url", prep.URL),
		zap.String("adapter", fmt.Sprintf("%T", adapter)))

	start := time.Now()
	resp, err := adapter.Send(ctx, prep, opts)
	if err != nil {
		c.logger.Debug("request failed", zap.String("url", prep.URL), zap.Error(err))
		return nil, err
	}
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	if resp.Request == nil {
		resp.Request = prep
	}
	if resp.URL == "" {
		resp.URL = prep.URL
	}
	return resp, nil
}

func digestRetry(prep *PreparedRequest, resp *Response) (*PreparedRequest, bool, error) {
	for _, line := range resp.Headers.Values("WWW-Authenticate") {
		ch := digest.ParseChallenge(line)
		if ch.Scheme != "digest" {
			continue
		}
		u, err := neturl.Parse(prep.URL)
		if err != nil {
			return nil, false, err
		}
		auth, err := digest.FromChallenge(ch, prep.Auth.Username, prep.Auth.Password, prep.Method, u.RequestURI())
		if err != nil {
			return nil, false, err
		}
		retry := prep.Clone()
		retry.Header.Set("Authorization", auth.AuthorizationHeader())
		return retry, true, nil
	}
	return nil, false, nil
}

// redirectRequest builds the request that follows a redirect response.
func redirectRequest(prep *PreparedRequest, resp *Response) (*PreparedRequest, error) {
	base, err := neturl.Parse(prep.URL)
	if err != nil {
		return nil, err
	}
	loc, err := base.Parse(resp.Header("Location"))
	if err != nil {
		return nil, err
	}

	next := prep.Clone()
	next.URL = loc.String()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		if prep.Method == http.MethodPost {
			next.Method = http.MethodGet
		}
	case http.StatusSeeOther:
		if prep.Method != http.MethodHead {
			next.Method = http.MethodGet
		}
	}
	if next.Method != prep.Method {
		next.Body = nil
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}
	if !strings.EqualFold(base.Host, loc.Host) {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
		next.Auth = nil
	}
	return next, nil
}

func (c *Client) Get(url string, headers map[string]string) (*Response, error) {
	return c.Do(&Request{
		Method:  "GET",
		URL:     url,
		Headers: headers,
	})
}

func (c *Client) Post(url, body string, headers map[string]string) (*Response, error) {
	return c.Do(&Request{
		Method:  "POST",
		URL:     url,
		Body:    body,
		Headers: headers,
	})
}

func (c *Client) Put(url, body string, headers map[string]string) (*Response, error) {
	return c.Do(&Request{
		Method:  "PUT",
		URL:     url,
		Body:    body,
		Headers: headers,
	})
}

func (c *Client) Patch(url, body string, headers map[string]string) (*Response, error) {
	return c.Do(&Request{
		Method:  "PATCH",
		URL:     url,
		Body:    body,
		Headers: headers,
	})
}

func (c *Client) Delete(url string, headers map[string]string) (*Response, error) {
	return c.Do(&Request{
		Method:  "DELETE",
		URL:     url,
		Headers: headers,
	})
}
