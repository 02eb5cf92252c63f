package adapter

import (
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"time"

	nativehttp "github.com/abdul-hamid-achik/nativehttp/packages/http"
)

// Transport is an http.RoundTripper that sends requests through a
// SessionAdapter, so a stock http.Client can use the engine. Redirects are
// returned to the client, which follows them according to its own policy.
type Transport struct {
	Adapter *SessionAdapter

	Timeout            time.Duration
	InsecureSkipVerify bool
	Certificate        *tls.Certificate
	// Proxies maps a URL scheme or "all" to a proxy URL.
	Proxies map[string]string
}

// NewTransport returns a Transport over a.
func NewTransport(a *SessionAdapter) *Transport {
	return &Transport{Adapter: a}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	prep := &nativehttp.PreparedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	}
	if user, pass, ok := req.BasicAuth(); ok {
		prep.Auth = &nativehttp.Credentials{Scheme: nativehttp.AuthSchemeBasic, Username: user, Password: pass}
	}

	resp, err := t.Adapter.Send(req.Context(), prep, nativehttp.SendOptions{
		Stream:  true,
		Timeout: t.Timeout,
		Verify:  !t.InsecureSkipVerify,
		Cert:    t.Certificate,
		Proxies: t.Proxies,
	})
	if err != nil {
		return nil, err
	}

	major, minor, ok := http.ParseHTTPVersion(resp.Proto)
	if !ok {
		major, minor = 1, 1
	}
	contentLength := int64(-1)
	if v := resp.Headers.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			contentLength = n
		}
	}

	return &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        resp.Headers,
		Body:          resp.Raw,
		ContentLength: contentLength,
		Request:       req,
	}, nil
}

var _ http.RoundTripper = (*Transport)(nil)
