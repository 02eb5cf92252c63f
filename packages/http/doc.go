// Package http provides the request/response client used by nativehttp.
//
// The client prepares requests and resolves redirects itself, but the bytes
// are moved by an Adapter mounted for a URL prefix:
//   - HTTPAdapter sends through the standard library's transport
//   - adapter.SessionAdapter sends through the urlsession engine
//
// Adapters are selected by longest matching prefix, so a single client can
// send some hosts through one transport and everything else through another.
package http
