package urlsession

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLRequest_SetValue(t *testing.T) {
	req, err := NewRequest("http://example.com/path")
	require.NoError(t, err)

	req.SetValue("x-custom", "one")
	req.SetValue("X-Custom", "two")

	assert.Equal(t, http.Header{"X-Custom": {"two"}}, req.Header)
	assert.Equal(t, "two", req.Value("x-CUSTOM"))

	req.AddValue("x-custom", "three")
	assert.Equal(t, []string{"two", "three"}, req.Header["X-Custom"])
}

func TestURLRequest_Clone(t *testing.T) {
	req, err := NewRequest("http://example.com/path")
	require.NoError(t, err)
	req.SetValue("accept", "text/plain")
	req.Body = []byte("body")

	c := req.Clone()
	c.SetValue("accept", "application/json")
	c.Body[0] = 'B'
	c.URL.Path = "/other"

	assert.Equal(t, "text/plain", req.Value("accept"))
	assert.Equal(t, "body", string(req.Body))
	assert.Equal(t, "/path", req.URL.Path)
}

func TestNewRequest_BadURL(t *testing.T) {
	_, err := NewRequest("http://[::1")
	require.Error(t, err)
	var urlErr *URLError
	require.ErrorAs(t, err, &urlErr)
	assert.Equal(t, ErrorBadURL, urlErr.Code)
}

func TestParseCachePolicy(t *testing.T) {
	for _, p := range []CachePolicy{UseProtocolCachePolicy, ReloadIgnoringLocalCacheData, ReturnCacheDataElseLoad, ReturnCacheDataDontLoad} {
		got, err := ParseCachePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParseCachePolicy("sometimes")
	assert.Error(t, err)
}

func TestRedirectRequest(t *testing.T) {
	req, err := NewRequest("http://example.com/form")
	require.NoError(t, err)
	req.Method = http.MethodPost
	req.Body = []byte("a=b")
	req.SetValue("Content-Type", "application/x-www-form-urlencoded")
	req.SetValue("Authorization", "Bearer token")

	resp := &HTTPURLResponse{StatusCode: http.StatusSeeOther, Header: http.Header{"Location": {"http://other.example/done"}}}
	next := redirectRequest(req, resp)
	require.NotNil(t, next)
	assert.Equal(t, http.MethodGet, next.Method)
	assert.Nil(t, next.Body)
	assert.Empty(t, next.Value("Content-Type"))
	assert.Empty(t, next.Value("Authorization"), "credentials do not cross hosts")

	resp = &HTTPURLResponse{StatusCode: http.StatusTemporaryRedirect, Header: http.Header{"Location": {"/again"}}}
	next = redirectRequest(req, resp)
	require.NotNil(t, next)
	assert.Equal(t, http.MethodPost, next.Method)
	assert.Equal(t, "http://example.com/again", next.URL.String())
	assert.Equal(t, "Bearer token", next.Value("Authorization"))

	assert.Nil(t, redirectRequest(req, &HTTPURLResponse{StatusCode: http.StatusFound, Header: http.Header{}}))
}
