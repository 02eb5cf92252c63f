package urlsession

// TaskDelegate receives task completion. It is the only delegate interface a
// session requires; the others below are optional and discovered by type
// assertion.
type TaskDelegate interface {
	// DidComplete is called exactly once per resumed task. err is nil on
	// success and a *URLError otherwise. Server errors (4xx, 5xx) are not
	// reported here.
	DidComplete(session *Session, task *Task, err error)
}

// SessionDelegate is told when an invalidated session has finished.
type SessionDelegate interface {
	DidBecomeInvalid(session *Session, err error)
}

// SessionChallengeDelegate answers connection-level challenges: server trust
// and client certificates.
type SessionChallengeDelegate interface {
	DidReceiveSessionChallenge(session *Session, challenge *AuthenticationChallenge, completion ChallengeCompletion)
}

// TaskChallengeDelegate answers request-level challenges such as HTTP Basic
// and Digest authentication.
type TaskChallengeDelegate interface {
	DidReceiveChallenge(session *Session, task *Task, challenge *AuthenticationChallenge, completion ChallengeCompletion)
}

// RedirectDelegate decides whether a redirect is followed. Calling completion
// with nil refuses the redirect and the redirect response becomes the task's
// response.
type RedirectDelegate interface {
	WillPerformHTTPRedirection(session *Session, task *Task, response *HTTPURLResponse, request *URLRequest, completion func(*URLRequest))
}

// ResponseDisposition tells the engine what to do after the response headers.
type ResponseDisposition int

const (
	ResponseAllow ResponseDisposition = iota
	ResponseCancel
)

// DataDelegate receives the response and its body.
type DataDelegate interface {
	DidReceiveResponse(session *Session, task *Task, response *HTTPURLResponse, completion func(ResponseDisposition))
	// DidReceiveData is called with successive body chunks, in order. The
	// slice is owned by the delegate.
	DidReceiveData(session *Session, task *Task, data []byte)
}

// MetricsDelegate receives timing information before DidComplete.
type MetricsDelegate interface {
	DidFinishCollectingMetrics(session *Session, task *Task, metrics *TaskMetrics)
}

type noopDelegate struct{}

func (noopDelegate) DidComplete(*Session, *Task, error) {}
