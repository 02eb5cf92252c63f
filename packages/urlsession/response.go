package urlsession

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// HTTPURLResponse is the response metadata delivered to DidReceiveResponse.
type HTTPURLResponse struct {
	URL                   *url.URL
	StatusCode            int
	Header                http.Header
	Proto                 string
	ExpectedContentLength int64
}

func newHTTPURLResponse(resp *http.Response, u *url.URL) *HTTPURLResponse {
	return &HTTPURLResponse{
		URL:                   u,
		StatusCode:            resp.StatusCode,
		Header:                resp.Header.Clone(),
		Proto:                 resp.Proto,
		ExpectedContentLength: resp.ContentLength,
	}
}

// Value returns the first value of a header field.
func (r *HTTPURLResponse) Value(field string) string {
	return r.Header.Get(field)
}

// MIMEType returns the media type of the response without parameters.
func (r *HTTPURLResponse) MIMEType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// TextEncodingName returns the charset parameter of the Content-Type, if any.
func (r *HTTPURLResponse) TextEncodingName() string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}

// LocalizedStringForStatusCode returns a lower-case reason phrase for code.
func LocalizedStringForStatusCode(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return "unknown"
	}
	return strings.ToLower(text)
}
