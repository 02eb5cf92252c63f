package urlsession

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedEntry(rawURL, body string, header http.Header) (*URLRequest, *CachedURLResponse) {
	u, _ := url.Parse(rawURL)
	if header == nil {
		header = make(http.Header)
	}
	return &URLRequest{URL: u, Method: http.MethodGet, Header: make(http.Header)},
		&CachedURLResponse{
			Response:      &HTTPURLResponse{URL: u, StatusCode: 200, Header: header, Proto: "HTTP/1.1"},
			Data:          []byte(body),
			StoredAt:      time.Now(),
			StoragePolicy: StorageAllowed,
		}
}

func TestMemoryCache_LRU(t *testing.T) {
	c := NewMemoryCache(25)

	reqA, a := cachedEntry("http://example.com/a", strings.Repeat("a", 10), nil)
	reqB, b := cachedEntry("http://example.com/b", strings.Repeat("b", 10), nil)
	reqC, cc := cachedEntry("http://example.com/c", strings.Repeat("c", 10), nil)

	c.StoreCachedResponse(a, reqA)
	c.StoreCachedResponse(b, reqB)
	require.NotNil(t, c.CachedResponse(reqA))

	c.StoreCachedResponse(cc, reqC)

	assert.NotNil(t, c.CachedResponse(reqA))
	assert.Nil(t, c.CachedResponse(reqB))
	assert.NotNil(t, c.CachedResponse(reqC))
	assert.Equal(t, 20, c.CurrentUsage())
}

func TestMemoryCache_Policies(t *testing.T) {
	c := NewMemoryCache(1024)

	req, entry := cachedEntry("http://example.com/x#frag", "x", nil)
	entry.StoragePolicy = StorageNotAllowed
	c.StoreCachedResponse(entry, req)
	assert.Nil(t, c.CachedResponse(req))

	entry.StoragePolicy = StorageAllowedInMemoryOnly
	c.StoreCachedResponse(entry, req)
	other, _ := cachedEntry("http://example.com/x", "", nil)
	assert.NotNil(t, c.CachedResponse(other), "fragment is not part of the key")

	c.RemoveCachedResponse(req)
	assert.Nil(t, c.CachedResponse(req))

	c.StoreCachedResponse(entry, req)
	c.RemoveAllCachedResponses()
	assert.Nil(t, c.CachedResponse(req))
	assert.Equal(t, 0, c.CurrentUsage())
}

func TestIsFresh(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		header http.Header
		age    time.Duration
		want   bool
	}{
		{"max-age fresh", http.Header{"Cache-Control": {"public, max-age=60"}}, 10 * time.Second, true},
		{"max-age stale", http.Header{"Cache-Control": {"max-age=60"}}, 2 * time.Minute, false},
		{"no-cache", http.Header{"Cache-Control": {"no-cache, max-age=60"}}, 0, false},
		{"expires future", http.Header{"Expires": {now.Add(time.Hour).UTC().Format(http.TimeFormat)}}, 0, true},
		{"expires past", http.Header{"Expires": {now.Add(-time.Hour).UTC().Format(http.TimeFormat)}}, 0, false},
		{"no freshness info", http.Header{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, entry := cachedEntry("http://example.com", "", tt.header)
			entry.StoredAt = now.Add(-tt.age)
			assert.Equal(t, tt.want, isFresh(entry, now))
		})
	}
}

func TestIsCacheable(t *testing.T) {
	req, entry := cachedEntry("http://example.com", "", nil)
	assert.True(t, isCacheable(req, entry.Response))

	entry.Response.Header.Set("Cache-Control", "no-store")
	assert.False(t, isCacheable(req, entry.Response))

	entry.Response.Header.Del("Cache-Control")
	req.Method = http.MethodPost
	assert.False(t, isCacheable(req, entry.Response))
}

func TestSQLiteCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := NewSQLiteCache(path, nil)
	require.NoError(t, err)
	defer c.Close()

	req, entry := cachedEntry("http://example.com/data", "persisted", http.Header{"Etag": {`"v1"`}})
	c.StoreCachedResponse(entry, req)

	got := c.CachedResponse(req)
	require.NotNil(t, got)
	assert.Equal(t, "persisted", string(got.Data))
	assert.Equal(t, 200, got.Response.StatusCode)
	assert.Equal(t, `"v1"`, got.Response.Header.Get("ETag"))
	assert.Equal(t, entry.StoredAt.UnixNano(), got.StoredAt.UnixNano())

	memReq, memOnly := cachedEntry("http://example.com/memory", "volatile", nil)
	memOnly.StoragePolicy = StorageAllowedInMemoryOnly
	c.StoreCachedResponse(memOnly, memReq)
	assert.Nil(t, c.CachedResponse(memReq))

	c.RemoveCachedResponse(req)
	assert.Nil(t, c.CachedResponse(req))

	c.StoreCachedResponse(entry, req)
	c.RemoveAllCachedResponses()
	assert.Nil(t, c.CachedResponse(req))
}

func TestSQLiteCache_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := NewSQLiteCache(path, nil)
	require.NoError(t, err)

	req, entry := cachedEntry("http://example.com/keep", "kept", nil)
	c.StoreCachedResponse(entry, req)
	require.NoError(t, c.Close())

	c, err = NewSQLiteCache(path, nil)
	require.NoError(t, err)
	defer c.Close()

	got := c.CachedResponse(req)
	require.NotNil(t, got)
	assert.Equal(t, "kept", string(got.Data))
}
