package urlsession

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
)

// AuthenticationMethod identifies what a challenge is asking for.
type AuthenticationMethod string

const (
	AuthenticationMethodServerTrust       AuthenticationMethod = "server-trust"
	AuthenticationMethodClientCertificate AuthenticationMethod = "client-certificate"
	AuthenticationMethodHTTPBasic         AuthenticationMethod = "http-basic"
	AuthenticationMethodHTTPDigest        AuthenticationMethod = "http-digest"
)

// ProtectionSpace describes the server, realm and method a credential applies to.
type ProtectionSpace struct {
	Host                 string
	Port                 string
	Protocol             string
	Realm                string
	AuthenticationMethod AuthenticationMethod

	// ServerTrust is set for server trust challenges.
	ServerTrust *ServerTrust
	// DistinguishedNames lists the CAs the server accepts for client
	// certificate challenges.
	DistinguishedNames [][]byte
}

func (p ProtectionSpace) key() string {
	return fmt.Sprintf("%s://%s:%s/%s#%s", p.Protocol, p.Host, p.Port, p.Realm, p.AuthenticationMethod)
}

// ServerTrust is the certificate chain a server presented together with the
// outcome of standard x509 evaluation.
type ServerTrust struct {
	Host         string
	Certificates []*x509.Certificate
	// Err is the result of default evaluation; nil means the chain is trusted.
	Err error
}

// Evaluate returns the result of default trust evaluation.
func (t *ServerTrust) Evaluate() error {
	return t.Err
}

func (t *ServerTrust) matches(other *ServerTrust) bool {
	if t == nil || other == nil || len(t.Certificates) == 0 || len(other.Certificates) == 0 {
		return false
	}
	return t.Host == other.Host && bytes.Equal(t.Certificates[0].Raw, other.Certificates[0].Raw)
}

// Persistence controls whether a credential is remembered by the session.
type Persistence int

const (
	PersistenceNone Persistence = iota
	PersistenceForSession
	PersistencePermanent
)

// Credential answers an authentication challenge.
type Credential struct {
	User        string
	Password    string
	Persistence Persistence

	trust       *ServerTrust
	certificate *tls.Certificate
}

// NewCredential creates a user/password credential.
func NewCredential(user, password string, persistence Persistence) *Credential {
	return &Credential{User: user, Password: password, Persistence: persistence}
}

// CredentialForTrust creates a credential that accepts the given server trust.
func CredentialForTrust(trust *ServerTrust) *Credential {
	return &Credential{trust: trust}
}

// CredentialWithCertificate creates a client certificate credential.
func CredentialWithCertificate(cert *tls.Certificate) *Credential {
	return &Credential{certificate: cert}
}

// HasPassword reports whether the credential carries a user name and password.
func (c *Credential) HasPassword() bool {
	return c != nil && c.User != ""
}

// Certificate returns the client certificate, if any.
func (c *Credential) Certificate() *tls.Certificate {
	if c == nil {
		return nil
	}
	return c.certificate
}

// ChallengeDisposition is the delegate's answer to a challenge.
type ChallengeDisposition int

const (
	UseCredential ChallengeDisposition = iota
	PerformDefaultHandling
	CancelAuthenticationChallenge
	RejectProtectionSpace
)

func (d ChallengeDisposition) String() string {
	switch d {
	case UseCredential:
		return "use-credential"
	case PerformDefaultHandling:
		return "default"
	case CancelAuthenticationChallenge:
		return "cancel"
	case RejectProtectionSpace:
		return "reject"
	default:
		return fmt.Sprintf("ChallengeDisposition(%d)", int(d))
	}
}

// AuthenticationChallenge is passed to challenge delegates.
type AuthenticationChallenge struct {
	ProtectionSpace      ProtectionSpace
	PreviousFailureCount int
	FailureResponse      *HTTPURLResponse
	ProposedCredential   *Credential
}

// ChallengeCompletion is called exactly once by the delegate to answer a challenge.
type ChallengeCompletion func(ChallengeDisposition, *Credential)

// CredentialStorage holds default credentials per protection space.
type CredentialStorage struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

func NewCredentialStorage() *CredentialStorage {
	return &CredentialStorage{creds: make(map[string]*Credential)}
}

// SetDefaultCredential stores a credential for the protection space.
func (s *CredentialStorage) SetDefaultCredential(cred *Credential, space ProtectionSpace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[space.key()] = cred
}

// DefaultCredential returns the stored credential for the protection space.
func (s *CredentialStorage) DefaultCredential(space ProtectionSpace) *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[space.key()]
}

// RemoveCredential forgets the credential for the protection space.
func (s *CredentialStorage) RemoveCredential(space ProtectionSpace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, space.key())
}

// SharedCredentialStorage is used by DefaultConfiguration.
var SharedCredentialStorage = NewCredentialStorage()
