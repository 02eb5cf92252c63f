package urlsession

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/auth/digest"
	"go.uber.org/zap"
)

const (
	// MaxRedirects is the number of redirects a task follows before failing
	// with ErrorHTTPTooManyRedirects.
	MaxRedirects = 16
	// maxAuthFailures is the number of rejected credentials after which the
	// 401 response is delivered.
	maxAuthFailures = 3
	dataChunkSize   = 32 * 1024
)

// TaskState is the lifecycle state of a Task.
type TaskState int

const (
	TaskStateSuspended TaskState = iota
	TaskStateRunning
	TaskStateCanceling
	TaskStateCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskStateSuspended:
		return "suspended"
	case TaskStateRunning:
		return "running"
	case TaskStateCanceling:
		return "canceling"
	case TaskStateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Task is a single load performed by a session. Tasks are created suspended.
type Task struct {
	id         uint64
	session    *Session
	original   *URLRequest
	upload     bool
	uploadBody []byte

	received atomic.Int64

	mu       sync.Mutex
	state    TaskState
	current  *URLRequest
	response *HTTPURLResponse
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
}

// Identifier is unique within the task's session.
func (t *Task) Identifier() uint64 {
	return t.id
}

// State returns the current state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OriginalRequest is the request the task was created with.
func (t *Task) OriginalRequest() *URLRequest {
	return t.original
}

// CurrentRequest is the request being loaded, which differs from the
// original after a redirect or an authentication retry.
func (t *Task) CurrentRequest() *URLRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Response is the response delivered to the delegate, if any.
func (t *Task) Response() *HTTPURLResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

// Error is the error the task completed with.
func (t *Task) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// CountOfBytesReceived is the number of body bytes delivered so far.
func (t *Task) CountOfBytesReceived() int64 {
	return t.received.Load()
}

// Done is closed after DidComplete has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Resume starts a suspended task. It has no effect on a task that already
// started. A task resumed after its session was invalidated completes with
// ErrorCancelled without notifying the delegate.
func (t *Task) Resume() {
	t.mu.Lock()
	if t.state != TaskStateSuspended {
		t.mu.Unlock()
		return
	}
	t.state = TaskStateRunning
	t.mu.Unlock()

	t.start(false)
}

// Cancel stops the task. The delegate receives DidComplete with
// ErrorCancelled unless the task already finished.
func (t *Task) Cancel() {
	t.mu.Lock()
	switch t.state {
	case TaskStateSuspended:
		t.state = TaskStateCanceling
		t.mu.Unlock()
		t.start(true)
	case TaskStateRunning:
		t.state = TaskStateCanceling
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		t.mu.Unlock()
	}
}

func (t *Task) start(cancelled bool) {
	s := t.session
	if !s.begin(t) {
		t.mu.Lock()
		t.state = TaskStateCompleted
		t.err = newError(ErrorCancelled, t.original.urlString(), errInvalidatedBeforeResume)
		t.mu.Unlock()
		close(t.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	if cancelled {
		cancel()
	}

	go t.run(ctx, cancel)
}

func (t *Task) timeout() time.Duration {
	cfg := t.session.cfg
	timeout := cfg.TimeoutIntervalForRequest
	if t.original.TimeoutInterval > 0 {
		timeout = t.original.TimeoutInterval
	}
	if cfg.TimeoutIntervalForResource > 0 && cfg.TimeoutIntervalForResource < timeout {
		timeout = cfg.TimeoutIntervalForResource
	}
	return timeout
}

func (t *Task) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	s := t.session
	metrics := &TaskMetrics{Start: time.Now()}

	err := t.load(ctx, metrics)
	metrics.End = time.Now()

	var complete error
	if err != nil {
		u := t.CurrentRequest().urlString()
		// A finished context means the task was cancelled or timed out,
		// whatever the transport reported.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		complete = classify(err, u)
	}

	s.logger.Debug("task completed",
		zap.Uint64("task", t.id),
		zap.String("url", t.original.urlString()),
		zap.Int("redirects", metrics.RedirectCount),
		zap.Duration("duration", metrics.Duration()),
		zap.Error(complete))

	t.mu.Lock()
	t.state = TaskStateCompleted
	t.err = complete
	t.mu.Unlock()

	if d, ok := s.delegate.(MetricsDelegate); ok {
		s.dispatch(func() { d.DidFinishCollectingMetrics(s, t, metrics) })
	}
	s.dispatch(func() {
		s.delegate.DidComplete(s, t, complete)
		close(t.done)
		s.end(t)
	})
}

func (t *Task) setCurrent(req *URLRequest) {
	t.mu.Lock()
	t.current = req
	t.mu.Unlock()
}

// prepare applies session defaults to a copy of the original request.
func (t *Task) prepare() *URLRequest {
	cfg := t.session.cfg
	req := t.original.Clone()
	for k, v := range cfg.HTTPAdditionalHeaders {
		if req.Value(k) == "" {
			req.SetValue(k, v)
		}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.CachePolicy == UseProtocolCachePolicy {
		req.CachePolicy = cfg.RequestCachePolicy
	}
	return req
}

func (t *Task) load(ctx context.Context, metrics *TaskMetrics) error {
	s := t.session
	req := t.prepare()
	t.setCurrent(req)

	if err := ctx.Err(); err != nil {
		return err
	}
	if req.URL == nil || req.URL.Host == "" {
		return newError(ErrorBadURL, req.urlString(), nil)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return newError(ErrorUnsupportedURL, req.urlString(), nil)
	}

	cache := s.cfg.URLCache
	var cached *CachedURLResponse
	if cache != nil && req.Method == http.MethodGet && req.CachePolicy != ReloadIgnoringLocalCacheData {
		cached = cache.CachedResponse(req)
	}

	conditional := false
	switch req.CachePolicy {
	case ReturnCacheDataDontLoad:
		if cached == nil {
			return errCacheMiss
		}
		return t.deliverCached(ctx, req, cached, metrics)
	case ReturnCacheDataElseLoad:
		if cached != nil {
			return t.deliverCached(ctx, req, cached, metrics)
		}
	case UseProtocolCachePolicy:
		if cached != nil {
			if isFresh(cached, time.Now()) {
				return t.deliverCached(ctx, req, cached, metrics)
			}
			conditional = addValidators(req, cached)
		}
	}

	var (
		authFailures int
		pending      *pendingCredential
	)
	for {
		httpResp, tx, err := t.roundTrip(ctx, req)
		if err != nil {
			return err
		}
		resp := newHTTPURLResponse(httpResp, req.URL)
		metrics.Transactions = append(metrics.Transactions, tx.finish(resp))

		if pending != nil && resp.StatusCode != http.StatusUnauthorized {
			pending.commit(s.cfg.URLCredentialStorage)
			pending = nil
		}

		if resp.StatusCode == http.StatusNotModified && conditional {
			drain(httpResp)
			refreshed := refresh(cached, resp)
			if cache != nil {
				cache.StoreCachedResponse(refreshed, req)
			}
			return t.deliverCached(ctx, req, refreshed, nil)
		}

		if isRedirect(resp.StatusCode) {
			next, follow, err := t.redirect(ctx, req, resp, metrics.RedirectCount)
			if err != nil {
				drain(httpResp)
				return err
			}
			if follow {
				drain(httpResp)
				metrics.RedirectCount++
				req = next
				conditional = false
				t.setCurrent(req)
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			next, cred, err := t.authenticate(ctx, req, resp, authFailures)
			if err != nil {
				drain(httpResp)
				return err
			}
			if next != nil {
				drain(httpResp)
				authFailures++
				pending = cred
				req = next
				t.setCurrent(req)
				continue
			}
		}

		var record *bytes.Buffer
		if cache != nil && isCacheable(req, resp) {
			record = &bytes.Buffer{}
		}
		err = t.deliver(ctx, resp, httpResp.Body, record)
		_ = httpResp.Body.Close()
		if err != nil {
			return err
		}
		if record != nil {
			cache.StoreCachedResponse(&CachedURLResponse{
				Response:      resp,
				Data:          record.Bytes(),
				StoredAt:      time.Now(),
				StoragePolicy: StorageAllowed,
			}, req)
		}
		return nil
	}
}

func (t *Task) payload(req *URLRequest) []byte {
	if t.upload {
		return t.uploadBody
	}
	return req.Body
}

func (t *Task) roundTrip(ctx context.Context, req *URLRequest) (*http.Response, *traceRecorder, error) {
	rec := newTraceRecorder(req)

	var body io.Reader
	if payload := t.payload(req); len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	hreq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, rec.trace()), req.Method, req.URL.String(), body)
	if err != nil {
		return nil, nil, newError(ErrorBadURL, req.urlString(), err)
	}
	hreq.Header = req.Header.Clone()
	if host := req.Value("Host"); host != "" {
		hreq.Host = host
	}

	t.session.logger.Debug("sending request",
		zap.Uint64("task", t.id),
		zap.String("method", req.Method),
		zap.String("url", req.urlString()))

	resp, err := t.session.transport.RoundTrip(hreq)
	if err != nil {
		return nil, nil, err
	}
	return resp, rec, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectRequest builds the request that follows resp. It returns nil when
// the response has no usable Location.
func redirectRequest(req *URLRequest, resp *HTTPURLResponse) *URLRequest {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil
	}
	u, err := req.URL.Parse(loc)
	if err != nil {
		return nil
	}

	next := req.Clone()
	next.URL = u
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		if req.Method == http.MethodPost {
			next.Method = http.MethodGet
		}
	case http.StatusSeeOther:
		if req.Method != http.MethodHead {
			next.Method = http.MethodGet
		}
	}
	if next.Method != req.Method {
		next.Body = nil
		next.removeField("Content-Type")
		next.removeField("Content-Length")
	}
	if !strings.EqualFold(u.Host, req.URL.Host) {
		next.removeField("Authorization")
		next.removeField("Cookie")
	}
	next.removeField("If-None-Match")
	next.removeField("If-Modified-Since")
	return next
}

func (t *Task) redirect(ctx context.Context, req *URLRequest, resp *HTTPURLResponse, count int) (*URLRequest, bool, error) {
	s := t.session
	next := redirectRequest(req, resp)
	if next == nil {
		return nil, false, nil
	}

	if d, ok := s.delegate.(RedirectDelegate); ok {
		next = awaitAnswer(ctx, s.stop, s.queue, (*URLRequest)(nil), func(reply func(*URLRequest)) {
			d.WillPerformHTTPRedirection(s, t, resp, next, reply)
		})
		if next == nil {
			s.logger.Debug("redirect refused", zap.Uint64("task", t.id), zap.Int("status", resp.StatusCode))
			return nil, false, nil
		}
		next = next.Clone()
	}

	if count >= MaxRedirects {
		return nil, false, newError(ErrorHTTPTooManyRedirects, next.urlString(), nil)
	}
	if next.Method != req.Method && t.upload {
		t.upload = false
		t.uploadBody = nil
	}
	return next, true, nil
}

// pendingCredential is stored once the server accepts it.
type pendingCredential struct {
	credential *Credential
	space      ProtectionSpace
}

func (p *pendingCredential) commit(storage *CredentialStorage) {
	if p == nil || storage == nil || p.credential.Persistence == PersistenceNone {
		return
	}
	storage.SetDefaultCredential(p.credential, p.space)
}

// selectChallenge picks the strongest supported scheme from the response.
func selectChallenge(resp *HTTPURLResponse) (digest.Challenge, AuthenticationMethod, bool) {
	var basic *digest.Challenge
	for _, line := range resp.Header.Values("WWW-Authenticate") {
		ch := digest.ParseChallenge(line)
		switch ch.Scheme {
		case "digest":
			return ch, AuthenticationMethodHTTPDigest, true
		case "basic":
			if basic == nil {
				basic = &ch
			}
		}
	}
	if basic != nil {
		return *basic, AuthenticationMethodHTTPBasic, true
	}
	return digest.Challenge{}, "", false
}

// authenticate answers a 401. It returns a retry request, or nil when the
// response should be delivered as is.
func (t *Task) authenticate(ctx context.Context, req *URLRequest, resp *HTTPURLResponse, failures int) (*URLRequest, *pendingCredential, error) {
	s := t.session
	ch, method, ok := selectChallenge(resp)
	if !ok || failures >= maxAuthFailures {
		return nil, nil, nil
	}

	space := ProtectionSpace{
		Host:                 req.URL.Hostname(),
		Port:                 req.URL.Port(),
		Protocol:             req.URL.Scheme,
		Realm:                ch.Realm(),
		AuthenticationMethod: method,
	}
	var proposed *Credential
	if s.cfg.URLCredentialStorage != nil {
		proposed = s.cfg.URLCredentialStorage.DefaultCredential(space)
	}

	answer := challengeAnswer{disposition: PerformDefaultHandling}
	if d, ok := s.delegate.(TaskChallengeDelegate); ok {
		challenge := &AuthenticationChallenge{
			ProtectionSpace:      space,
			PreviousFailureCount: failures,
			FailureResponse:      resp,
			ProposedCredential:   proposed,
		}
		answer = awaitAnswer(ctx, s.stop, s.queue, challengeAnswer{disposition: CancelAuthenticationChallenge},
			func(reply func(challengeAnswer)) {
				d.DidReceiveChallenge(s, t, challenge, func(disp ChallengeDisposition, cred *Credential) {
					reply(challengeAnswer{disposition: disp, credential: cred})
				})
			})
	}

	var cred *Credential
	switch answer.disposition {
	case UseCredential:
		cred = answer.credential
	case PerformDefaultHandling:
		cred = proposed
	case CancelAuthenticationChallenge:
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, errChallengeCancelled
	}
	if !cred.HasPassword() {
		return nil, nil, nil
	}

	header, err := authorization(ch, method, cred, req)
	if err != nil {
		return nil, nil, err
	}
	next := req.Clone()
	next.SetValue("Authorization", header)

	s.logger.Debug("answering authentication challenge",
		zap.Uint64("task", t.id),
		zap.String("method", string(method)),
		zap.String("realm", space.Realm),
		zap.Int("previous_failures", failures))

	return next, &pendingCredential{credential: cred, space: space}, nil
}

func authorization(ch digest.Challenge, method AuthenticationMethod, cred *Credential, req *URLRequest) (string, error) {
	if method == AuthenticationMethodHTTPBasic {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred.User+":"+cred.Password)), nil
	}
	auth, err := digest.FromChallenge(ch, cred.User, cred.Password, req.Method, req.URL.RequestURI())
	if err != nil {
		return "", fmt.Errorf("failed to answer digest challenge: %w", err)
	}
	return auth.AuthorizationHeader(), nil
}

func (t *Task) deliverCached(ctx context.Context, req *URLRequest, cached *CachedURLResponse, metrics *TaskMetrics) error {
	if metrics != nil {
		metrics.Transactions = append(metrics.Transactions, cacheTransaction(req, cached))
	}
	t.session.logger.Debug("serving cached response", zap.Uint64("task", t.id), zap.String("url", req.urlString()))
	return t.deliver(ctx, cached.Response, bytes.NewReader(cached.Data), nil)
}

// deliver hands the response and its body to the delegate.
func (t *Task) deliver(ctx context.Context, resp *HTTPURLResponse, body io.Reader, record *bytes.Buffer) error {
	s := t.session
	t.mu.Lock()
	t.response = resp
	t.mu.Unlock()

	dataDelegate, hasData := s.delegate.(DataDelegate)
	if hasData {
		disposition := awaitAnswer(ctx, s.stop, s.queue, ResponseCancel, func(reply func(ResponseDisposition)) {
			dataDelegate.DidReceiveResponse(s, t, resp, reply)
		})
		if disposition == ResponseCancel {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errResponseCancelled
		}
	}

	buf := make([]byte, dataChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.received.Add(int64(n))
			if record != nil {
				record.Write(chunk)
			}
			if hasData {
				s.dispatch(func() { dataDelegate.DidReceiveData(s, t, chunk) })
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// refresh merges the headers of a 304 into a cached response.
func refresh(cached *CachedURLResponse, notModified *HTTPURLResponse) *CachedURLResponse {
	resp := *cached.Response
	resp.Header = cached.Response.Header.Clone()
	for k, vs := range notModified.Header {
		resp.Header[k] = append([]string(nil), vs...)
	}
	return &CachedURLResponse{
		Response:      &resp,
		Data:          cached.Data,
		StoredAt:      time.Now(),
		StoragePolicy: cached.StoragePolicy,
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
