package adapter

import (
	"errors"

	"github.com/abdul-hamid-achik/nativehttp/packages/urlsession"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("adapter: closed")

	// ErrBodyNotSupported is returned when a method other than PUT or POST
	// carries a body. Only upload tasks send one.
	ErrBodyNotSupported = errors.New("adapter: request body is only sent for PUT and POST")
)

// TransportError is returned when the engine fails a request. Its message is
// the engine's localized description; the underlying *urlsession.URLError
// is available through errors.As.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Code returns the engine error code, or ErrorUnknown.
func (e *TransportError) Code() urlsession.ErrorCode {
	var urlErr *urlsession.URLError
	if errors.As(e.Err, &urlErr) {
		return urlErr.Code
	}
	return urlsession.ErrorUnknown
}

func newTransportError(err error) *TransportError {
	var urlErr *urlsession.URLError
	if errors.As(err, &urlErr) {
		return &TransportError{Message: urlErr.LocalizedDescription(), Err: urlErr}
	}
	return &TransportError{Message: err.Error(), Err: err}
}
