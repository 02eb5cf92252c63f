package urlsession

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session coordinates a group of tasks that share a configuration, a
// connection pool and a delegate.
type Session struct {
	id        string
	cfg       *Configuration
	delegate  TaskDelegate
	queue     *OperationQueue
	ownsQueue bool
	transport *http.Transport
	logger    *zap.Logger

	nextTaskID atomic.Uint64

	mu          sync.Mutex
	running     map[uint64]*Task
	invalidated bool
	finishOnce  sync.Once

	// stop aborts pending delegate questions on InvalidateAndCancel.
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSession creates a session. A nil configuration means
// DefaultConfiguration, a nil delegate discards every notification and a nil
// queue gives the session its own serial queue.
func NewSession(cfg *Configuration, delegate TaskDelegate, queue *OperationQueue) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfiguration()
	}
	cfg = cfg.Copy()
	if delegate == nil {
		delegate = noopDelegate{}
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		delegate: delegate,
		queue:    queue,
		logger:   cfg.Logger,
		running:  make(map[uint64]*Task),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if s.queue == nil {
		s.queue = NewOperationQueue()
		s.ownsQueue = true
	}

	t, err := s.newTransport()
	if err != nil {
		if s.ownsQueue {
			s.queue.Close()
		}
		return nil, err
	}
	s.transport = t
	s.logger = s.logger.With(zap.String("session", s.id))
	s.logger.Debug("session created",
		zap.Bool("http2", cfg.HTTP2Enabled),
		zap.Stringer("cache_policy", cfg.RequestCachePolicy))

	return s, nil
}

// Identifier returns the session's unique identifier.
func (s *Session) Identifier() string {
	return s.id
}

// Configuration returns a copy of the session's configuration.
func (s *Session) Configuration() *Configuration {
	return s.cfg.Copy()
}

// Delegate returns the session's delegate.
func (s *Session) Delegate() TaskDelegate {
	return s.delegate
}

// DelegateQueue returns the queue delegate callbacks run on.
func (s *Session) DelegateQueue() *OperationQueue {
	return s.queue
}

// DataTask creates a suspended task that loads req.
func (s *Session) DataTask(req *URLRequest) (*Task, error) {
	return s.newTask(req, nil, false)
}

// UploadTask creates a suspended task that sends body with req. The request's
// own Body is ignored.
func (s *Session) UploadTask(req *URLRequest, body []byte) (*Task, error) {
	return s.newTask(req, body, true)
}

func (s *Session) newTask(req *URLRequest, body []byte, upload bool) (*Task, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	s.mu.Lock()
	invalidated := s.invalidated
	s.mu.Unlock()
	if invalidated {
		return nil, ErrSessionInvalidated
	}

	t := &Task{
		id:       s.nextTaskID.Add(1),
		session:  s,
		original: req.Clone(),
		upload:   upload,
		state:    TaskStateSuspended,
		done:     make(chan struct{}),
	}
	if upload {
		t.uploadBody = append([]byte(nil), body...)
	}
	t.current = t.original
	return t, nil
}

// begin registers a task as running. It returns false once the session has
// been invalidated.
func (s *Session) begin(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalidated {
		return false
	}
	s.running[t.id] = t
	return true
}

func (s *Session) end(t *Task) {
	s.mu.Lock()
	delete(s.running, t.id)
	last := s.invalidated && len(s.running) == 0
	s.mu.Unlock()

	if last {
		s.finishInvalidation(nil)
	}
}

// dispatch runs op on the delegate queue, or inline when the queue no longer
// accepts work.
func (s *Session) dispatch(op func()) {
	if !s.queue.AddOperation(op) {
		op()
	}
}

// FinishTasksAndInvalidate lets running tasks complete and then invalidates
// the session. No new tasks can be created afterwards.
func (s *Session) FinishTasksAndInvalidate() {
	s.invalidate(false)
}

// InvalidateAndCancel cancels every running task and invalidates the session.
func (s *Session) InvalidateAndCancel() {
	s.invalidate(true)
}

func (s *Session) invalidate(cancel bool) {
	s.mu.Lock()
	if s.invalidated && !cancel {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	tasks := make([]*Task, 0, len(s.running))
	for _, t := range s.running {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	s.logger.Debug("invalidating session", zap.Bool("cancel", cancel), zap.Int("running", len(tasks)))

	if cancel {
		s.stopOnce.Do(func() { close(s.stop) })
		for _, t := range tasks {
			t.Cancel()
		}
	}
	if len(tasks) == 0 {
		s.finishInvalidation(nil)
	}
}

func (s *Session) finishInvalidation(err error) {
	s.finishOnce.Do(func() {
		s.transport.CloseIdleConnections()
		s.dispatch(func() {
			if d, ok := s.delegate.(SessionDelegate); ok {
				d.DidBecomeInvalid(s, err)
			}
			close(s.done)
		})
		if s.ownsQueue {
			s.queue.Close()
		}
	})
}

// Done is closed once the session has been invalidated and DidBecomeInvalid
// has run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsInvalidated reports whether FinishTasksAndInvalidate or
// InvalidateAndCancel has been called.
func (s *Session) IsInvalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

var errInvalidatedBeforeResume = errors.New("session was invalidated before the task was resumed")
