package urlsession

import (
	"container/list"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StoragePolicy controls where a cached response may be kept.
type StoragePolicy int

const (
	StorageAllowed StoragePolicy = iota
	StorageAllowedInMemoryOnly
	StorageNotAllowed
)

// CachedURLResponse is a response and its body as kept by a URLCache.
type CachedURLResponse struct {
	Response      *HTTPURLResponse
	Data          []byte
	StoredAt      time.Time
	StoragePolicy StoragePolicy
}

func (c *CachedURLResponse) size() int {
	n := len(c.Data)
	for k, vs := range c.Response.Header {
		n += len(k)
		for _, v := range vs {
			n += len(v)
		}
	}
	return n
}

// URLCache stores responses keyed by request.
type URLCache interface {
	CachedResponse(req *URLRequest) *CachedURLResponse
	StoreCachedResponse(cached *CachedURLResponse, req *URLRequest)
	RemoveCachedResponse(req *URLRequest)
	RemoveAllCachedResponses()
}

func cacheKey(req *URLRequest) string {
	if req == nil || req.URL == nil {
		return ""
	}
	u := *req.URL
	u.Fragment = ""
	return u.String()
}

type memoryEntry struct {
	key    string
	cached *CachedURLResponse
}

// MemoryCache is an in-memory URLCache that evicts the least recently used
// entries once its byte capacity is exceeded.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	used     int
	order    *list.List
	entries  map[string]*list.Element
}

// NewMemoryCache creates a cache holding at most capacity bytes.
func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *MemoryCache) CachedResponse(req *URLRequest) *CachedURLResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(req)]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry).cached
}

func (c *MemoryCache) StoreCachedResponse(cached *CachedURLResponse, req *URLRequest) {
	if cached == nil || cached.StoragePolicy == StorageNotAllowed {
		return
	}
	size := cached.size()
	if size > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(req)
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, cached: cached})
	c.used += size

	for c.used > c.capacity {
		c.removeElement(c.order.Back())
	}
}

func (c *MemoryCache) RemoveCachedResponse(req *URLRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[cacheKey(req)]; ok {
		c.removeElement(el)
	}
}

func (c *MemoryCache) RemoveAllCachedResponses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.used = 0
}

// CurrentUsage returns the number of bytes held.
func (c *MemoryCache) CurrentUsage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *MemoryCache) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
	c.used -= entry.cached.size()
}

func cacheControl(h http.Header) map[string]string {
	directives := make(map[string]string)
	for _, line := range h.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			directives[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return directives
}

// isCacheable reports whether a response to req may be stored.
func isCacheable(req *URLRequest, resp *HTTPURLResponse) bool {
	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	if _, ok := cacheControl(req.Header)["no-store"]; ok {
		return false
	}
	if _, ok := cacheControl(resp.Header)["no-store"]; ok {
		return false
	}
	return true
}

// isFresh reports whether a cached response may be served without
// revalidation.
func isFresh(cached *CachedURLResponse, now time.Time) bool {
	cc := cacheControl(cached.Response.Header)
	if _, ok := cc["no-cache"]; ok {
		return false
	}
	age := now.Sub(cached.StoredAt)
	if v, ok := cc["max-age"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return false
		}
		return age < time.Duration(secs)*time.Second
	}
	if v := cached.Response.Header.Get("Expires"); v != "" {
		expires, err := http.ParseTime(v)
		if err != nil {
			return false
		}
		return now.Before(expires)
	}
	return false
}

// addValidators sets conditional headers on req from a cached response and
// reports whether any were set.
func addValidators(req *URLRequest, cached *CachedURLResponse) bool {
	added := false
	if etag := cached.Response.Header.Get("ETag"); etag != "" {
		req.SetValue("If-None-Match", etag)
		added = true
	}
	if lm := cached.Response.Header.Get("Last-Modified"); lm != "" {
		req.SetValue("If-Modified-Since", lm)
		added = true
	}
	return added
}
