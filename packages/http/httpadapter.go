package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sync"
	"time"
)

const (
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second
)

// HTTPAdapter sends requests with the standard library's transport. One
// transport is kept per distinct verify/certificate/proxy combination.
type HTTPAdapter struct {
	mu         sync.Mutex
	transports map[transportKey]*http.Transport
}

type transportKey struct {
	verify bool
	cert   *tls.Certificate
	http   string
	https  string
}

func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{transports: make(map[transportKey]*http.Transport)}
}

func (a *HTTPAdapter) transport(opts SendOptions) (*http.Transport, error) {
	key := transportKey{
		verify: opts.Verify,
		cert:   opts.Cert,
		http:   opts.ProxyFor("http"),
		https:  opts.ProxyFor("https"),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.transports[key]; ok {
		return t, nil
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		ForceAttemptHTTP2:   true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.Verify, //nolint:gosec // user opted out of verification
		},
	}
	if opts.Cert != nil {
		transport.TLSClientConfig.Certificates = []tls.Certificate{*opts.Cert}
	}

	if key.http != "" || key.https != "" {
		proxies := map[string]*neturl.URL{}
		for scheme, raw := range map[string]string{"http": key.http, "https": key.https} {
			if raw == "" {
				continue
			}
			u, err := neturl.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
			}
			proxies[scheme] = u
		}
		transport.Proxy = func(r *http.Request) (*neturl.URL, error) {
			return proxies[r.URL.Scheme], nil
		}
	}

	a.transports[key] = transport
	return transport, nil
}

func (a *HTTPAdapter) Send(ctx context.Context, req *PreparedRequest, opts SendOptions) (*Response, error) {
	transport, err := a.transport(opts)
	if err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header = req.Header.Clone()
	if host := req.Header.Get("Host"); host != "" {
		httpReq.Host = host
	}

	start := time.Now()
	httpResp, err := transport.RoundTrip(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		cancel()
		return nil, err
	}

	resp := NewResponse(httpResp.StatusCode, http.StatusText(httpResp.StatusCode), httpResp.Header)
	resp.Status = httpResp.Status
	resp.Proto = httpResp.Proto
	resp.URL = req.URL
	resp.Request = req

	if opts.Stream {
		resp.Raw = &cancelOnClose{ReadCloser: httpResp.Body, cancel: cancel}
		resp.Duration = time.Since(start)
		return resp, nil
	}

	defer cancel()
	defer httpResp.Body.Close()

	resp.Body, err = io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *HTTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, t := range a.transports {
		t.CloseIdleConnections()
		delete(a.transports, key)
	}
	return nil
}

// cancelOnClose releases the request context when a streamed body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
