package adapter

import (
	"bytes"
	"crypto/tls"
	"errors"
	"sync"

	"github.com/abdul-hamid-achik/nativehttp/packages/metrics"
	nativehttp "github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/abdul-hamid-achik/nativehttp/packages/urlsession"
	"go.uber.org/zap"
)

var errNoResponse = errors.New("task completed without a response")

// result is what a blocked Send receives. Exactly one is posted per task.
type result struct {
	response *urlsession.HTTPURLResponse
	body     []byte
	stream   *streamBody
	err      error
}

// pending is the per-task state shared between Send and the delegate.
type pending struct {
	handoff chan result
	once    sync.Once

	auth     *nativehttp.Credentials
	stream   bool
	release  func()
	answered bool

	response *urlsession.HTTPURLResponse
	body     bytes.Buffer
	pipe     *streamBody
}

func newPending(auth *nativehttp.Credentials, stream bool, release func()) *pending {
	p := &pending{
		handoff: make(chan result, 1),
		auth:    auth,
		stream:  stream,
	}
	var once sync.Once
	p.release = func() {
		if release != nil {
			once.Do(release)
		}
	}
	return p
}

// post hands r to Send. Later posts are dropped.
func (p *pending) post(r result) {
	p.once.Do(func() {
		p.handoff <- r
	})
}

// sessionDelegate answers the engine's callbacks for one native session.
// Callbacks run serially on the session's delegate queue.
type sessionDelegate struct {
	verify  bool
	cert    *tls.Certificate
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	tasks map[uint64]*pending
}

func newSessionDelegate(verify bool, cert *tls.Certificate, logger *zap.Logger, m *metrics.Collector) *sessionDelegate {
	return &sessionDelegate{
		verify:  verify,
		cert:    cert,
		logger:  logger,
		metrics: m,
		tasks:   make(map[uint64]*pending),
	}
}

func (d *sessionDelegate) register(task *urlsession.Task, p *pending) {
	d.mu.Lock()
	d.tasks[task.Identifier()] = p
	d.mu.Unlock()
}

func (d *sessionDelegate) lookup(task *urlsession.Task) *pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks[task.Identifier()]
}

func (d *sessionDelegate) take(task *urlsession.Task) *pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.tasks[task.Identifier()]
	delete(d.tasks, task.Identifier())
	return p
}

func (d *sessionDelegate) DidReceiveSessionChallenge(_ *urlsession.Session, ch *urlsession.AuthenticationChallenge, completion urlsession.ChallengeCompletion) {
	space := ch.ProtectionSpace
	switch space.AuthenticationMethod {
	case urlsession.AuthenticationMethodServerTrust:
		if !d.verify && space.ServerTrust != nil {
			d.logger.Debug("accepting server trust without verification", zap.String("host", space.Host))
			completion(urlsession.UseCredential, urlsession.CredentialForTrust(space.ServerTrust))
			return
		}
	case urlsession.AuthenticationMethodClientCertificate:
		if d.cert != nil {
			completion(urlsession.UseCredential, urlsession.CredentialWithCertificate(d.cert))
			return
		}
	}
	completion(urlsession.PerformDefaultHandling, nil)
}

func (d *sessionDelegate) DidReceiveChallenge(_ *urlsession.Session, task *urlsession.Task, ch *urlsession.AuthenticationChallenge, completion urlsession.ChallengeCompletion) {
	p := d.lookup(task)
	if p != nil && p.auth != nil && !p.answered && schemeMatches(p.auth.Scheme, ch.ProtectionSpace.AuthenticationMethod) {
		p.answered = true
		completion(urlsession.UseCredential, urlsession.NewCredential(p.auth.Username, p.auth.Password, urlsession.PersistenceNone))
		return
	}
	completion(urlsession.PerformDefaultHandling, nil)
}

func schemeMatches(scheme nativehttp.AuthScheme, method urlsession.AuthenticationMethod) bool {
	switch scheme {
	case nativehttp.AuthSchemeBasic:
		return method == urlsession.AuthenticationMethodHTTPBasic
	case nativehttp.AuthSchemeDigest:
		return method == urlsession.AuthenticationMethodHTTPDigest
	}
	return false
}

// WillPerformHTTPRedirection refuses every redirect; the client follows
// them itself.
func (d *sessionDelegate) WillPerformHTTPRedirection(_ *urlsession.Session, _ *urlsession.Task, _ *urlsession.HTTPURLResponse, _ *urlsession.URLRequest, completion func(*urlsession.URLRequest)) {
	completion(nil)
}

func (d *sessionDelegate) DidReceiveResponse(_ *urlsession.Session, task *urlsession.Task, resp *urlsession.HTTPURLResponse, completion func(urlsession.ResponseDisposition)) {
	if p := d.lookup(task); p != nil {
		p.response = resp
		if p.stream {
			release := p.release
			p.pipe = newStreamBody(func() {
				task.Cancel()
				release()
			})
			p.post(result{response: resp, stream: p.pipe})
		}
	}
	completion(urlsession.ResponseAllow)
}

func (d *sessionDelegate) DidReceiveData(_ *urlsession.Session, task *urlsession.Task, data []byte) {
	p := d.lookup(task)
	if p == nil {
		return
	}
	if p.pipe != nil {
		p.pipe.write(data)
		return
	}
	p.body.Write(data)
}

func (d *sessionDelegate) DidFinishCollectingMetrics(_ *urlsession.Session, _ *urlsession.Task, m *urlsession.TaskMetrics) {
	if d.metrics == nil {
		return
	}
	for _, tx := range m.Transactions {
		d.metrics.ObserveTransaction(tx.ResourceFetchType.String(), tx.NetworkProtocolName, tx.ReusedConnection)
	}
	d.metrics.ObserveRedirects(m.RedirectCount)
}

func (d *sessionDelegate) DidComplete(_ *urlsession.Session, task *urlsession.Task, err error) {
	p := d.take(task)
	if p == nil {
		return
	}

	if err != nil {
		if p.pipe != nil {
			p.pipe.finish(newTransportError(err))
			p.release()
		}
		p.post(result{err: err})
		return
	}
	if p.pipe != nil {
		p.pipe.finish(nil)
		p.release()
		return
	}
	if p.response == nil {
		p.post(result{err: errNoResponse})
		return
	}
	p.post(result{response: p.response, body: p.body.Bytes()})
}

func (d *sessionDelegate) DidBecomeInvalid(*urlsession.Session, error) {
	d.metrics.SessionClosed()
}
