// Package adapter sends nativehttp client requests through the urlsession
// engine instead of the standard library's transport.
//
// SessionAdapter implements http.Adapter. For every Send it:
//   - translates the prepared request into a urlsession.URLRequest,
//     dropping headers the engine manages itself
//   - starts an upload task for PUT and POST, a data task otherwise
//   - blocks until the engine's delegate callbacks hand back a response or
//     an error through a single-slot channel
//
// The session delegate supplies the policy the client expects: redirects
// are refused so the client can resolve them, server trust is accepted when
// verification is off, and authentication challenges are answered with the
// credentials attached to the request.
package adapter
