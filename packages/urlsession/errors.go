package urlsession

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrorCode identifies the class of a URL loading failure.
type ErrorCode int

const (
	ErrorUnknown                     ErrorCode = -1
	ErrorCancelled                   ErrorCode = -999
	ErrorBadURL                      ErrorCode = -1000
	ErrorTimedOut                    ErrorCode = -1001
	ErrorUnsupportedURL              ErrorCode = -1002
	ErrorCannotFindHost              ErrorCode = -1003
	ErrorCannotConnectToHost         ErrorCode = -1004
	ErrorNetworkConnectionLost       ErrorCode = -1005
	ErrorHTTPTooManyRedirects        ErrorCode = -1007
	ErrorResourceUnavailable         ErrorCode = -1008
	ErrorUserCancelledAuthentication ErrorCode = -1012
	ErrorServerCertificateUntrusted  ErrorCode = -1202
	ErrorClientCertificateRequired   ErrorCode = -1206
)

var localizedDescriptions = map[ErrorCode]string{
	ErrorUnknown:                     "An unknown error occurred.",
	ErrorCancelled:                   "cancelled",
	ErrorBadURL:                      "bad URL",
	ErrorTimedOut:                    "The request timed out.",
	ErrorUnsupportedURL:              "unsupported URL",
	ErrorCannotFindHost:              "A server with the specified hostname could not be found.",
	ErrorCannotConnectToHost:         "Could not connect to the server.",
	ErrorNetworkConnectionLost:       "The network connection was lost.",
	ErrorHTTPTooManyRedirects:        "too many HTTP redirects",
	ErrorResourceUnavailable:         "The requested resource is unavailable.",
	ErrorUserCancelledAuthentication: "The user cancelled authentication.",
	ErrorServerCertificateUntrusted:  "The certificate for this server is invalid.",
	ErrorClientCertificateRequired:   "The server requires a client certificate.",
}

// String returns the localized description for the code.
func (c ErrorCode) String() string {
	if d, ok := localizedDescriptions[c]; ok {
		return d
	}
	return localizedDescriptions[ErrorUnknown]
}

// URLError is the error reported to DidComplete when a task fails.
type URLError struct {
	Code ErrorCode
	URL  string
	Err  error
}

func (e *URLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("urlsession: %s (%d) %s: %v", e.Code, e.Code, e.URL, e.Err)
	}
	return fmt.Sprintf("urlsession: %s (%d) %s", e.Code, e.Code, e.URL)
}

func (e *URLError) Unwrap() error {
	return e.Err
}

// LocalizedDescription returns a human readable description of the failure.
func (e *URLError) LocalizedDescription() string {
	return e.Code.String()
}

// Timeout reports whether the failure was a timeout.
func (e *URLError) Timeout() bool {
	return e.Code == ErrorTimedOut
}

var (
	// ErrSessionInvalidated is returned when creating a task on an invalidated session.
	ErrSessionInvalidated = errors.New("urlsession: session has been invalidated")
	// ErrNilRequest is returned when a task is created without a request.
	ErrNilRequest = errors.New("urlsession: nil request")

	errServerTrustRejected = errors.New("server trust was rejected")
	errChallengeCancelled  = errors.New("authentication challenge was cancelled")
	errResponseCancelled   = errors.New("response was cancelled by the delegate")
	errCacheMiss           = errors.New("no cached response for request")
	errClientCertCancelled = errors.New("client certificate challenge was cancelled")
)

func newError(code ErrorCode, url string, err error) *URLError {
	return &URLError{Code: code, URL: url, Err: err}
}

// classify maps a transport error onto a URLError code.
func classify(err error, url string) *URLError {
	if err == nil {
		return nil
	}

	var urlErr *URLError
	if errors.As(err, &urlErr) {
		return urlErr
	}

	code := ErrorUnknown
	var (
		dnsErr       *net.DNSError
		opErr        *net.OpError
		netErr       net.Error
		unknownAuth  x509.UnknownAuthorityError
		invalidCert  x509.CertificateInvalidError
		hostnameErr  x509.HostnameError
		verification *tls.CertificateVerificationError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, errResponseCancelled):
		code = ErrorCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrorTimedOut
	case errors.Is(err, errChallengeCancelled):
		code = ErrorUserCancelledAuthentication
	case errors.Is(err, errClientCertCancelled):
		code = ErrorClientCertificateRequired
	case errors.Is(err, errServerTrustRejected),
		errors.As(err, &unknownAuth),
		errors.As(err, &invalidCert),
		errors.As(err, &hostnameErr),
		errors.As(err, &verification):
		code = ErrorServerCertificateUntrusted
	case errors.Is(err, errCacheMiss):
		code = ErrorResourceUnavailable
	case errors.As(err, &dnsErr):
		code = ErrorCannotFindHost
	case errors.As(err, &netErr) && netErr.Timeout():
		code = ErrorTimedOut
	case errors.As(err, &opErr) && opErr.Op == "dial":
		code = ErrorCannotConnectToHost
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		code = ErrorNetworkConnectionLost
	case strings.Contains(err.Error(), "unsupported protocol scheme"):
		code = ErrorUnsupportedURL
	case errors.As(err, &opErr):
		code = ErrorNetworkConnectionLost
	}

	return newError(code, url, err)
}
