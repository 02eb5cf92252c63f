package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	nativehttp "github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/abdul-hamid-achik/nativehttp/packages/metrics"
	"github.com/abdul-hamid-achik/nativehttp/packages/urlsession"
	"go.uber.org/zap"
)

// Name is the adapter label used in logs and metrics.
const Name = "session"

// SessionAdapter sends prepared requests through urlsession. It keeps one
// native session per distinct (verify, certificate, proxy) tuple so pooled
// connections never cross trust settings.
type SessionAdapter struct {
	cfg     *urlsession.Configuration
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	sessions map[sessionKey]*nativeSession
	closed   bool
}

type sessionKey struct {
	verify bool
	cert   *tls.Certificate
	proxy  string
}

type nativeSession struct {
	session  *urlsession.Session
	delegate *sessionDelegate
}

// Option is a functional option for SessionAdapter
type Option func(*SessionAdapter)

// WithLogger sets the logger used by the adapter and its sessions.
func WithLogger(logger *zap.Logger) Option {
	return func(a *SessionAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records requests and engine transactions in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *SessionAdapter) {
		a.metrics = m
	}
}

// WithConfiguration sets the base configuration every session is copied
// from. Proxy, client certificates and logger are overridden per session.
func WithConfiguration(cfg *urlsession.Configuration) Option {
	return func(a *SessionAdapter) {
		if cfg != nil {
			a.cfg = cfg.Copy()
		}
	}
}

// WithCache enables response caching with the given policy.
func WithCache(cache urlsession.URLCache, policy urlsession.CachePolicy) Option {
	return func(a *SessionAdapter) {
		a.cfg.URLCache = cache
		a.cfg.RequestCachePolicy = policy
	}
}

// New creates a SessionAdapter. Without WithCache responses are never
// cached, since the client applies its own caching semantics.
func New(opts ...Option) *SessionAdapter {
	cfg := urlsession.EphemeralConfiguration()
	cfg.URLCache = nil
	cfg.RequestCachePolicy = urlsession.ReloadIgnoringLocalCacheData

	a := &SessionAdapter{
		cfg:      cfg,
		logger:   zap.NewNop(),
		sessions: make(map[sessionKey]*nativeSession),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SessionAdapter) session(key sessionKey) (*nativeSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if ns, ok := a.sessions[key]; ok {
		return ns, nil
	}

	cfg := a.cfg.Copy()
	cfg.Logger = a.logger
	cfg.ClientCertificates = nil
	cfg.ProxyURL = nil
	if key.proxy != "" {
		u, err := url.Parse(key.proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", key.proxy, err)
		}
		cfg.ProxyURL = u
	}

	delegate := newSessionDelegate(key.verify, key.cert, a.logger, a.metrics)
	s, err := urlsession.NewSession(cfg, delegate, nil)
	if err != nil {
		return nil, err
	}
	ns := &nativeSession{session: s, delegate: delegate}
	a.sessions[key] = ns
	a.metrics.SessionOpened()

	a.logger.Debug("session created",
		zap.String("session", s.Identifier()),
		zap.Bool("verify", key.verify),
		zap.Bool("cert", key.cert != nil),
		zap.String("proxy", key.proxy))
	return ns, nil
}

// Send translates req into a native task, resumes it and blocks until the
// delegate hands back a response or an error. Engine failures are returned
// as *TransportError.
func (a *SessionAdapter) Send(ctx context.Context, req *nativehttp.PreparedRequest, opts nativehttp.SendOptions) (*nativehttp.Response, error) {
	start := time.Now()
	resp, err := a.send(ctx, req, opts, start)
	if resp != nil {
		a.metrics.ObserveRequest(Name, req.Method, resp.StatusCode, nil, time.Since(start))
	} else {
		a.metrics.ObserveRequest(Name, req.Method, 0, err, time.Since(start))
	}
	return resp, err
}

func (a *SessionAdapter) send(ctx context.Context, req *nativehttp.PreparedRequest, opts nativehttp.SendOptions, start time.Time) (*nativehttp.Response, error) {
	nativeReq, err := buildNativeRequest(req, opts.Timeout)
	if err != nil {
		return nil, newTransportError(err)
	}

	if !usesUploadTask(nativeReq.Method) && len(req.Body) > 0 {
		a.logger.Warn("refusing body on data task",
			zap.String("method", nativeReq.Method),
			zap.String("url", req.URL),
			zap.Int("bytes", len(req.Body)))
		return nil, fmt.Errorf("%w: %s", ErrBodyNotSupported, nativeReq.Method)
	}

	ns, err := a.session(sessionKey{
		verify: opts.Verify,
		cert:   opts.Cert,
		proxy:  opts.ProxyFor(nativeReq.URL.Scheme),
	})
	if err != nil {
		return nil, err
	}

	var task *urlsession.Task
	if usesUploadTask(nativeReq.Method) {
		task, err = ns.session.UploadTask(nativeReq, req.Body)
	} else {
		task, err = ns.session.DataTask(nativeReq)
	}
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, task.Cancel)
	p := newPending(req.Auth, opts.Stream, func() { stop() })
	ns.delegate.register(task, p)

	a.logger.Debug("resuming task",
		zap.Uint64("task", task.Identifier()),
		zap.String("method", nativeReq.Method),
		zap.String("url", req.URL),
		zap.Bool("stream", opts.Stream))
	task.Resume()

	r := ns.await(task, p)
	if r.stream == nil {
		stop()
	}

	if r.err != nil {
		terr := newTransportError(r.err)
		a.logger.Debug("task failed",
			zap.Uint64("task", task.Identifier()),
			zap.String("url", req.URL),
			zap.Error(r.err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, terr)
		}
		return nil, terr
	}

	code := r.response.StatusCode
	reason := urlsession.LocalizedStringForStatusCode(code)
	// NewResponse builds Status from the same reason phrase.
	resp := nativehttp.NewResponse(code, reason, r.response.Header.Clone())
	resp.Proto = r.response.Proto
	resp.URL = req.URL
	if r.response.URL != nil {
		resp.URL = r.response.URL.String()
	}
	resp.Request = req
	if r.stream != nil {
		resp.Raw = r.stream
	} else {
		resp.Body = r.body
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

// await blocks on the task's handoff. A task resumed on a session that was
// invalidated in the meantime completes without calling the delegate, so
// its pending entry is dropped here.
func (ns *nativeSession) await(task *urlsession.Task, p *pending) result {
	select {
	case r := <-p.handoff:
		return r
	case <-task.Done():
		select {
		case r := <-p.handoff:
			return r
		default:
			ns.delegate.take(task)
			return result{err: task.Error()}
		}
	}
}

// Close invalidates every session and cancels outstanding tasks. Send fails
// with ErrClosed afterwards.
func (a *SessionAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for key, ns := range a.sessions {
		ns.session.InvalidateAndCancel()
		delete(a.sessions, key)
	}
	return nil
}

var _ nativehttp.Adapter = (*SessionAdapter)(nil)
