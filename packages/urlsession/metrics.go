package urlsession

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// ResourceFetchType records where a transaction's response came from.
type ResourceFetchType int

const (
	FetchTypeUnknown ResourceFetchType = iota
	FetchTypeNetworkLoad
	FetchTypeLocalCache
)

func (t ResourceFetchType) String() string {
	switch t {
	case FetchTypeNetworkLoad:
		return "network"
	case FetchTypeLocalCache:
		return "local-cache"
	default:
		return "unknown"
	}
}

// TransactionMetrics describes one request/response exchange of a task. A
// task has one transaction per redirect or authentication round trip.
type TransactionMetrics struct {
	Request  *URLRequest
	Response *HTTPURLResponse

	FetchStart        time.Time
	DomainLookupStart time.Time
	DomainLookupEnd   time.Time
	ConnectStart      time.Time
	ConnectEnd        time.Time
	TLSStart          time.Time
	TLSEnd            time.Time
	RequestStart      time.Time
	RequestEnd        time.Time
	ResponseStart     time.Time
	ResponseEnd       time.Time

	NetworkProtocolName string
	ReusedConnection    bool
	ResourceFetchType   ResourceFetchType
}

// TaskMetrics is delivered to MetricsDelegate before DidComplete.
type TaskMetrics struct {
	Start         time.Time
	End           time.Time
	RedirectCount int
	Transactions  []*TransactionMetrics
}

// Duration is the task interval.
func (m *TaskMetrics) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// traceRecorder fills a TransactionMetrics from httptrace hooks, which may
// fire on transport goroutines.
type traceRecorder struct {
	mu sync.Mutex
	tx *TransactionMetrics
}

func newTraceRecorder(req *URLRequest) *traceRecorder {
	return &traceRecorder{tx: &TransactionMetrics{
		Request:           req,
		FetchStart:        time.Now(),
		ResourceFetchType: FetchTypeNetworkLoad,
	}}
}

func (r *traceRecorder) set(fn func(tx *TransactionMetrics)) {
	r.mu.Lock()
	fn(r.tx)
	r.mu.Unlock()
}

func (r *traceRecorder) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			r.set(func(tx *TransactionMetrics) { tx.FetchStart = time.Now() })
		},
		GotConn: func(info httptrace.GotConnInfo) {
			r.set(func(tx *TransactionMetrics) { tx.ReusedConnection = info.Reused })
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			r.set(func(tx *TransactionMetrics) { tx.DomainLookupStart = time.Now() })
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			r.set(func(tx *TransactionMetrics) { tx.DomainLookupEnd = time.Now() })
		},
		ConnectStart: func(string, string) {
			r.set(func(tx *TransactionMetrics) { tx.ConnectStart = time.Now() })
		},
		ConnectDone: func(string, string, error) {
			r.set(func(tx *TransactionMetrics) { tx.ConnectEnd = time.Now() })
		},
		TLSHandshakeStart: func() {
			r.set(func(tx *TransactionMetrics) { tx.TLSStart = time.Now() })
		},
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			r.set(func(tx *TransactionMetrics) {
				tx.TLSEnd = time.Now()
				if cs.NegotiatedProtocol != "" {
					tx.NetworkProtocolName = cs.NegotiatedProtocol
				}
			})
		},
		WroteHeaders: func() {
			r.set(func(tx *TransactionMetrics) { tx.RequestStart = time.Now() })
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			r.set(func(tx *TransactionMetrics) { tx.RequestEnd = time.Now() })
		},
		GotFirstResponseByte: func() {
			r.set(func(tx *TransactionMetrics) { tx.ResponseStart = time.Now() })
		},
	}
}

func (r *traceRecorder) finish(resp *HTTPURLResponse) *TransactionMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tx.Response = resp
	r.tx.ResponseEnd = time.Now()
	if resp != nil && r.tx.NetworkProtocolName == "" {
		r.tx.NetworkProtocolName = protocolName(resp.Proto)
	}
	return r.tx
}

func protocolName(proto string) string {
	switch proto {
	case "HTTP/1.0":
		return "http/1.0"
	case "HTTP/1.1":
		return "http/1.1"
	case "HTTP/2.0":
		return "h2"
	default:
		return proto
	}
}

func cacheTransaction(req *URLRequest, cached *CachedURLResponse) *TransactionMetrics {
	now := time.Now()
	return &TransactionMetrics{
		Request:             req,
		Response:            cached.Response,
		FetchStart:          now,
		ResponseEnd:         now,
		NetworkProtocolName: protocolName(cached.Response.Proto),
		ResourceFetchType:   FetchTypeLocalCache,
	}
}
