package urlsession

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout bounds a single load, including redirects.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultResourceTimeout bounds the whole task.
	DefaultResourceTimeout = 7 * 24 * time.Hour
	// DefaultMaxConnectionsPerHost matches the per-host connection limit of
	// the platform framework.
	DefaultMaxConnectionsPerHost = 6
	// DefaultMemoryCacheCapacity is the size of the shared memory cache.
	DefaultMemoryCacheCapacity = 4 << 20
	// DefaultIdleConnTimeout is how long pooled connections stay open.
	DefaultIdleConnTimeout = 90 * time.Second
)

// Configuration describes the behaviour of a Session. A session copies its
// configuration when it is created, so later changes have no effect on it.
type Configuration struct {
	TimeoutIntervalForRequest  time.Duration
	TimeoutIntervalForResource time.Duration

	// HTTPAdditionalHeaders are added to every request that does not
	// already set them.
	HTTPAdditionalHeaders         map[string]string
	HTTPMaximumConnectionsPerHost int

	RequestCachePolicy   CachePolicy
	URLCache             URLCache
	URLCredentialStorage *CredentialStorage

	// ProxyURL routes every request through a proxy. When nil the
	// environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY) is consulted.
	ProxyURL *url.URL
	// RootCAs is used for default server trust evaluation. nil means the
	// system pool.
	RootCAs *x509.CertPool
	// ClientCertificates are offered by default handling of client
	// certificate challenges.
	ClientCertificates []tls.Certificate

	HTTP2Enabled bool

	Logger *zap.Logger
}

var sharedCache = NewMemoryCache(DefaultMemoryCacheCapacity)

// DefaultConfiguration returns a configuration that uses the shared cache and
// the shared credential storage.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		TimeoutIntervalForRequest:     DefaultRequestTimeout,
		TimeoutIntervalForResource:    DefaultResourceTimeout,
		HTTPAdditionalHeaders:         map[string]string{},
		HTTPMaximumConnectionsPerHost: DefaultMaxConnectionsPerHost,
		RequestCachePolicy:            UseProtocolCachePolicy,
		URLCache:                      sharedCache,
		URLCredentialStorage:          SharedCredentialStorage,
		HTTP2Enabled:                  true,
		Logger:                        zap.NewNop(),
	}
}

// EphemeralConfiguration returns a configuration whose cache and credential
// storage are private to the session and live in memory only.
func EphemeralConfiguration() *Configuration {
	cfg := DefaultConfiguration()
	cfg.URLCache = NewMemoryCache(DefaultMemoryCacheCapacity)
	cfg.URLCredentialStorage = NewCredentialStorage()
	return cfg
}

// Copy returns a copy of the configuration. The cache and credential storage
// are shared, not copied.
func (c *Configuration) Copy() *Configuration {
	cp := *c
	cp.HTTPAdditionalHeaders = make(map[string]string, len(c.HTTPAdditionalHeaders))
	for k, v := range c.HTTPAdditionalHeaders {
		cp.HTTPAdditionalHeaders[k] = v
	}
	if c.ProxyURL != nil {
		u := *c.ProxyURL
		cp.ProxyURL = &u
	}
	cp.ClientCertificates = append([]tls.Certificate(nil), c.ClientCertificates...)
	if cp.Logger == nil {
		cp.Logger = zap.NewNop()
	}
	if cp.TimeoutIntervalForRequest <= 0 {
		cp.TimeoutIntervalForRequest = DefaultRequestTimeout
	}
	if cp.TimeoutIntervalForResource <= 0 {
		cp.TimeoutIntervalForResource = DefaultResourceTimeout
	}
	if cp.URLCredentialStorage == nil {
		cp.URLCredentialStorage = NewCredentialStorage()
	}
	return &cp
}

func (c *Configuration) proxyFunc() func(*http.Request) (*url.URL, error) {
	if c.ProxyURL != nil {
		return http.ProxyURL(c.ProxyURL)
	}
	return http.ProxyFromEnvironment
}
