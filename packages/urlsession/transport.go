package urlsession

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	dialTimeout           = 30 * time.Second
	keepAlive             = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = time.Second
	maxIdleConns          = 100
)

// awaitAnswer runs ask on the delegate queue and blocks until the delegate
// calls the answer function, ctx is done or stop is closed. Only the first
// answer counts. fallback is returned when no answer arrives.
func awaitAnswer[T any](ctx context.Context, stop <-chan struct{}, q *OperationQueue, fallback T, ask func(answer func(T))) T {
	ch := make(chan T, 1)
	var once sync.Once
	answer := func(v T) {
		once.Do(func() { ch <- v })
	}

	if !q.AddOperation(func() { ask(answer) }) {
		return fallback
	}

	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		return fallback
	case <-stop:
		return fallback
	}
}

type challengeAnswer struct {
	disposition ChallengeDisposition
	credential  *Credential
}

// newTransport builds the connection layer of a session. TLS verification
// is switched off in crypto/tls and performed by evaluateServerTrust so the
// delegate can take part in it.
func (s *Session) newTransport() (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	base := &tls.Config{
		RootCAs:            s.cfg.RootCAs,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // verified in VerifyConnection
	}
	base.VerifyConnection = func(cs tls.ConnectionState) error {
		return s.evaluateServerTrust(context.Background(), cs.ServerName, cs)
	}
	base.GetClientCertificate = func(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
		return s.clientCertificate(cri.Context(), "", "", cri)
	}

	t := &http.Transport{
		Proxy:                 s.cfg.proxyFunc(),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       base,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   s.cfg.HTTPMaximumConnectionsPerHost,
		MaxConnsPerHost:       s.cfg.HTTPMaximumConnectionsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
	}

	// Direct TLS connections are dialed here so the host being verified is
	// known even when it is an IP literal and no SNI is sent.
	t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		cfg := t.TLSClientConfig.Clone()
		cfg.ServerName = host
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			return s.evaluateServerTrust(ctx, host, cs)
		}
		cfg.GetClientCertificate = func(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return s.clientCertificate(ctx, host, port, cri)
		}

		trace := httptrace.ContextClientTrace(ctx)
		if trace != nil && trace.TLSHandshakeStart != nil {
			trace.TLSHandshakeStart()
		}

		hctx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
		defer cancel()

		conn := tls.Client(raw, cfg)
		err = conn.HandshakeContext(hctx)
		if trace != nil && trace.TLSHandshakeDone != nil {
			trace.TLSHandshakeDone(conn.ConnectionState(), err)
		}
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		return conn, nil
	}

	if s.cfg.HTTP2Enabled {
		if _, err := http2.ConfigureTransports(t); err != nil {
			return nil, fmt.Errorf("failed to configure http2: %w", err)
		}
	} else {
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return t, nil
}

// defaultTrustEvaluation verifies the presented chain against roots for host.
func defaultTrustEvaluation(host string, certs []*x509.Certificate, roots *x509.CertPool) error {
	if len(certs) == 0 {
		return errors.New("server presented no certificates")
	}
	opts := x509.VerifyOptions{
		DNSName:       host,
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(opts)
	return err
}

func (s *Session) evaluateServerTrust(ctx context.Context, host string, cs tls.ConnectionState) error {
	trust := &ServerTrust{
		Host:         host,
		Certificates: cs.PeerCertificates,
	}
	trust.Err = defaultTrustEvaluation(host, cs.PeerCertificates, s.cfg.RootCAs)

	d, ok := s.delegate.(SessionChallengeDelegate)
	if !ok {
		return s.defaultTrust(trust)
	}

	challenge := &AuthenticationChallenge{
		ProtectionSpace: ProtectionSpace{
			Host:                 host,
			Protocol:             "https",
			AuthenticationMethod: AuthenticationMethodServerTrust,
			ServerTrust:          trust,
		},
	}
	answer := awaitAnswer(ctx, s.stop, s.queue, challengeAnswer{disposition: CancelAuthenticationChallenge},
		func(reply func(challengeAnswer)) {
			d.DidReceiveSessionChallenge(s, challenge, func(disp ChallengeDisposition, cred *Credential) {
				reply(challengeAnswer{disposition: disp, credential: cred})
			})
		})

	switch answer.disposition {
	case UseCredential:
		if answer.credential != nil && trust.matches(answer.credential.trust) {
			s.logger.Debug("server trust accepted by delegate", zap.String("host", host))
			return nil
		}
		return s.defaultTrust(trust)
	case CancelAuthenticationChallenge:
		return fmt.Errorf("%w: %w", errServerTrustRejected, errChallengeCancelled)
	default:
		return s.defaultTrust(trust)
	}
}

func (s *Session) defaultTrust(trust *ServerTrust) error {
	if trust.Err != nil {
		s.logger.Debug("server trust rejected", zap.String("host", trust.Host), zap.Error(trust.Err))
		return fmt.Errorf("%w: %w", errServerTrustRejected, trust.Err)
	}
	return nil
}

func (s *Session) clientCertificate(ctx context.Context, host, port string, cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	d, ok := s.delegate.(SessionChallengeDelegate)
	if !ok {
		return s.defaultClientCertificate(cri), nil
	}

	challenge := &AuthenticationChallenge{
		ProtectionSpace: ProtectionSpace{
			Host:                 host,
			Port:                 port,
			Protocol:             "https",
			AuthenticationMethod: AuthenticationMethodClientCertificate,
			DistinguishedNames:   cri.AcceptableCAs,
		},
	}
	answer := awaitAnswer(ctx, s.stop, s.queue, challengeAnswer{disposition: CancelAuthenticationChallenge},
		func(reply func(challengeAnswer)) {
			d.DidReceiveSessionChallenge(s, challenge, func(disp ChallengeDisposition, cred *Credential) {
				reply(challengeAnswer{disposition: disp, credential: cred})
			})
		})

	switch answer.disposition {
	case UseCredential:
		if cert := answer.credential.Certificate(); cert != nil {
			return cert, nil
		}
		return &tls.Certificate{}, nil
	case CancelAuthenticationChallenge:
		return nil, errClientCertCancelled
	default:
		return s.defaultClientCertificate(cri), nil
	}
}

// defaultClientCertificate offers the first configured certificate the
// server accepts, or none.
func (s *Session) defaultClientCertificate(cri *tls.CertificateRequestInfo) *tls.Certificate {
	for i := range s.cfg.ClientCertificates {
		cert := &s.cfg.ClientCertificates[i]
		if cri.SupportsCertificate(cert) == nil {
			return cert
		}
	}
	return &tls.Certificate{}
}
