package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/adapter"
	"github.com/abdul-hamid-achik/nativehttp/packages/core/config"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/abdul-hamid-achik/nativehttp/packages/log"
	"github.com/abdul-hamid-achik/nativehttp/packages/metrics"
	"github.com/abdul-hamid-achik/nativehttp/packages/urlsession"
	"go.uber.org/zap"
)

// workspace is everything a command needs to send requests. Close releases
// sessions, the cache database and the logger.
type workspace struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	client  *http.Client

	closers []func() error
}

// loadConfig reads the config file, if any, and applies the persistent
// flags on top of it.
func loadConfig() (*config.Config, error) {
	fileConfig, err := config.LoadConfig(globals.configPath)
	if err != nil {
		return nil, err
	}
	overrides, err := flagConfig()
	if err != nil {
		return nil, err
	}
	cfg := fileConfig.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagConfig() (*config.Config, error) {
	cfg := &config.Config{
		Adapter:      globals.adapter,
		CertFile:     globals.certFile,
		KeyFile:      globals.keyFile,
		Proxy:        globals.proxy,
		MaxRedirects: globals.maxRedirects,
		CachePolicy:  globals.cachePolicy,
		CachePath:    globals.cachePath,
		LogLevel:     globals.logLevel,
		LogEncoding:  globals.logEncoding,
		MetricsAddr:  globals.metricsAddr,
	}

	if globals.timeout != "" {
		d, err := time.ParseDuration(globals.timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout value %q: %w (use format like 30s, 1m, 500ms)", globals.timeout, err)
		}
		cfg.Timeout = int(d.Milliseconds())
	}
	if globals.insecure {
		cfg.Verify = config.BoolPtr(false)
	}
	if globals.noFollow {
		cfg.FollowRedirects = config.BoolPtr(false)
	}
	if globals.noHTTP2 {
		cfg.HTTP2 = config.BoolPtr(false)
	}
	if globals.noColor {
		cfg.NoColor = config.BoolPtr(true)
	}

	if len(globals.headers) > 0 {
		cfg.Headers = make(map[string]string, len(globals.headers))
		for _, h := range globals.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("invalid header %q (use \"Name: value\")", h)
			}
			cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cfg, nil
}

// newWorkspace builds the logger, optional metrics endpoint, adapter and
// client described by cfg. extra options are applied to the client last.
// The metrics server stops when ctx is done.
func newWorkspace(ctx context.Context, cfg *config.Config, extra ...http.ClientOption) (*workspace, error) {
	logger, err := log.New(log.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		return nil, err
	}
	w := &workspace{config: cfg, logger: logger}

	if cfg.MetricsAddr != "" {
		w.metrics = metrics.NewCollector()
		go func() {
			if err := w.metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	cert, err := cfg.LoadCertificate()
	if err != nil {
		w.Close()
		return nil, err
	}

	opts := []http.ClientOption{
		http.WithTimeout(cfg.TimeoutDuration()),
		http.WithFollowRedirects(cfg.GetFollowRedirects()),
		http.WithMaxRedirects(cfg.MaxRedirects),
		http.WithDefaultHeaders(cfg.Headers),
		http.WithValidateSSL(cfg.GetVerify()),
		http.WithProxy(cfg.Proxy),
		http.WithClientCertificate(cert),
		http.WithLogger(logger),
	}

	session, err := w.sessionAdapter()
	if err != nil {
		w.Close()
		return nil, err
	}
	builtin := http.NewHTTPAdapter()
	// Suites can pick either adapter per request with @adapter.
	opts = append(opts,
		http.WithNamedAdapter(config.AdapterSession, session),
		http.WithNamedAdapter(config.AdapterHTTP, builtin),
	)
	if cfg.Adapter == config.AdapterHTTP {
		opts = append(opts, http.WithAdapter(builtin))
	} else {
		opts = append(opts, http.WithAdapter(session))
	}

	w.client = http.NewClient(append(opts, extra...)...)
	// The client closes its adapters, which must happen before the cache.
	w.closers = append([]func() error{w.client.Close}, w.closers...)
	return w, nil
}

func (w *workspace) sessionAdapter() (*adapter.SessionAdapter, error) {
	sessionCfg := urlsession.EphemeralConfiguration()
	sessionCfg.HTTP2Enabled = w.config.GetHTTP2()

	opts := []adapter.Option{
		adapter.WithLogger(w.logger),
		adapter.WithMetrics(w.metrics),
		adapter.WithConfiguration(sessionCfg),
	}

	if w.config.CachePolicy != "" {
		policy, err := urlsession.ParseCachePolicy(w.config.CachePolicy)
		if err != nil {
			return nil, err
		}

		var cache urlsession.URLCache
		if w.config.CachePath != "" {
			sqlCache, err := urlsession.NewSQLiteCache(w.config.CachePath, w.logger)
			if err != nil {
				return nil, fmt.Errorf("opening cache: %w", err)
			}
			w.closers = append(w.closers, sqlCache.Close)
			cache = sqlCache
		} else {
			cache = urlsession.NewMemoryCache(urlsession.DefaultMemoryCacheCapacity)
		}
		opts = append(opts, adapter.WithCache(cache, policy))
	}

	return adapter.New(opts...), nil
}

// Close runs the registered closers in order and flushes the logger.
func (w *workspace) Close() {
	for _, c := range w.closers {
		if err := c(); err != nil {
			w.logger.Debug("close failed", zap.Error(err))
		}
	}
	w.closers = nil
	_ = w.logger.Sync()
}

// setupWorkspace loads config and builds the workspace, mapping failures
// to the config exit code.
func setupWorkspace(ctx context.Context, extra ...http.ClientOption) (*workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}
	w, err := newWorkspace(ctx, cfg, extra...)
	if err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}
	return w, nil
}
