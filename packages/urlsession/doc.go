// Package urlsession is a delegate-driven URL-loading engine.
//
// It models the session/task programming interface of a platform URL-loading
// framework on top of net/http and golang.org/x/net/http2:
//   - A Session owns connection pooling, TLS, HTTP/2, caching and credentials
//   - Tasks are created suspended and run when resumed
//   - Every notification (challenges, redirects, responses, data, metrics,
//     completion) is delivered to a delegate on a serial OperationQueue
//   - Decisions are returned through completion handlers, which may be
//     called synchronously from the callback or later from any goroutine
//
// Callers that want a blocking request/response API build it on top of the
// delegate protocol; see packages/adapter.
package urlsession
