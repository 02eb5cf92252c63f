// Package digest implements the client side of HTTP Digest access
// authentication (RFC 2617, MD5 only). It is shared by the URL-loading engine,
// which answers digest challenges natively, and by the generic client, which
// performs its own challenge-response when running on the built-in adapter.
package digest

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Auth contains the parameters needed for digest authentication
type Auth struct {
	Username string
	Password string
	Realm    string
	Nonce    string
	URI      string
	Qop      string
	Nc       string
	Cnonce   string
	Opaque   string
	Method   string
}

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	Scheme string
	Params map[string]string
}

// Realm returns the realm parameter, if any.
func (c Challenge) Realm() string {
	return c.Params["realm"]
}

// ParseChallenge parses a WWW-Authenticate header value such as
// `Digest realm="api", qop="auth,auth-int", nonce="abc"`. Commas inside quoted
// values are preserved.
func ParseChallenge(header string) Challenge {
	header = strings.TrimSpace(header)
	scheme, rest, _ := strings.Cut(header, " ")

	ch := Challenge{
		Scheme: strings.ToLower(scheme),
		Params: make(map[string]string),
	}

	for _, part := range splitParams(rest) {
		idx := strings.Index(part, "=")
		if idx == -1 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		value := strings.TrimSpace(part[idx+1:])
		value = strings.Trim(value, `"`)
		ch.Params[key] = value
	}

	return ch
}

// ParseWWWAuthenticate parses the parameters of a WWW-Authenticate header from
// a 401 response.
func ParseWWWAuthenticate(header string) map[string]string {
	return ParseChallenge(header).Params
}

func splitParams(s string) []string {
	var parts []string
	var b strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, strings.TrimSpace(b.String()))
	}
	return parts
}

// FromChallenge builds an Auth for the given request from a parsed challenge.
// When the server offers qop, "auth" is selected and a fresh cnonce is drawn.
func FromChallenge(ch Challenge, username, password, method, uri string) (*Auth, error) {
	auth := &Auth{
		Username: username,
		Password: password,
		Realm:    ch.Params["realm"],
		Nonce:    ch.Params["nonce"],
		Opaque:   ch.Params["opaque"],
		Qop:      ch.Params["qop"],
		Method:   method,
		URI:      uri,
	}

	if auth.Qop != "" {
		auth.Nc = "00000001"
		cnonce, err := GenerateCnonce()
		if err != nil {
			return nil, err
		}
		auth.Cnonce = cnonce
		// Prefer "auth" qop
		if strings.Contains(auth.Qop, "auth") {
			auth.Qop = "auth"
		}
	}

	return auth, nil
}

// ComputeResponse calculates the digest response hash
func (d *Auth) ComputeResponse() string {
	// HA1 = MD5(username:realm:password)
	ha1 := md5Hash(fmt.Sprintf("%s:%s:%s", d.Username, d.Realm, d.Password))

	// HA2 = MD5(method:uri)
	ha2 := md5Hash(fmt.Sprintf("%s:%s", d.Method, d.URI))

	if d.Qop == "auth" || d.Qop == "auth-int" {
		return md5Hash(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, d.Nonce, d.Nc, d.Cnonce, d.Qop, ha2))
	}
	return md5Hash(fmt.Sprintf("%s:%s:%s", ha1, d.Nonce, ha2))
}

// AuthorizationHeader creates the Authorization header value
func (d *Auth) AuthorizationHeader() string {
	response := d.ComputeResponse()

	parts := []string{
		fmt.Sprintf(`username="%s"`, d.Username),
		fmt.Sprintf(`realm="%s"`, d.Realm),
		fmt.Sprintf(`nonce="%s"`, d.Nonce),
		fmt.Sprintf(`uri="%s"`, d.URI),
		fmt.Sprintf(`response="%s"`, response),
	}

	if d.Qop != "" {
		parts = append(parts, fmt.Sprintf(`qop=%s`, d.Qop))
		parts = append(parts, fmt.Sprintf(`nc=%s`, d.Nc))
		parts = append(parts, fmt.Sprintf(`cnonce="%s"`, d.Cnonce))
	}

	if d.Opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, d.Opaque))
	}

	return "Digest " + strings.Join(parts, ", ")
}

// GenerateCnonce generates a random client nonce
func GenerateCnonce() (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func md5Hash(s string) string {
	h := md5.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
