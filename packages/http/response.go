package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type Response struct {
	StatusCode int
	Status     string
	Reason     string
	Proto      string
	URL        string
	Headers    http.Header
	Body       []byte
	// Raw holds the unread body when the request was sent with streaming
	// enabled. It must be closed by the caller.
	Raw      io.ReadCloser
	Duration time.Duration
	// History holds the redirect responses that led to this one, oldest
	// first.
	History []*Response
	Request *PreparedRequest
}

// NewResponse builds a Response from status and headers. The status line is
// derived from the code and reason.
func NewResponse(statusCode int, reason string, header http.Header) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, reason),
		Reason:     reason,
		Headers:    header,
	}
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

func (r *Response) BodyJSON() (any, error) {
	var result any
	if err := json.Unmarshal(r.Body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// JSON looks up a gjson path in the body.
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	ct := r.ContentType()
	return strings.Contains(ct, "application/json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// ReadBody reads a streamed body into Body and closes it. It is a no-op for
// responses that were not streamed.
func (r *Response) ReadBody() error {
	if r.Raw == nil {
		return nil
	}
	defer r.Close()
	body, err := io.ReadAll(r.Raw)
	if err != nil {
		return err
	}
	r.Body = body
	return nil
}

// Close releases a streamed body.
func (r *Response) Close() error {
	if r.Raw == nil {
		return nil
	}
	raw := r.Raw
	r.Raw = nil
	return raw.Close()
}
