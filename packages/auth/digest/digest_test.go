package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChallenge(t *testing.T) {
	ch := ParseChallenge(`Digest realm="testrealm@host.com", qop="auth,auth-int", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41"`)

	assert.Equal(t, "digest", ch.Scheme)
	assert.Equal(t, "testrealm@host.com", ch.Realm())
	assert.Equal(t, "auth,auth-int", ch.Params["qop"])
	assert.Equal(t, "dcd98b7102dd2f0e8b11d0f600bfb0c093", ch.Params["nonce"])
	assert.Equal(t, "5ccc069c403ebaf9f0171e9517f40e41", ch.Params["opaque"])
}

func TestParseChallenge_Basic(t *testing.T) {
	ch := ParseChallenge(`Basic realm="WallyWorld"`)
	assert.Equal(t, "basic", ch.Scheme)
	assert.Equal(t, "WallyWorld", ch.Realm())
}

func TestComputeResponse_RFC2617Example(t *testing.T) {
	// Worked example from RFC 2617 section 3.5.
	d := &Auth{
		Username: "Mufasa",
		Password: "Circle Of Life",
		Realm:    "testrealm@host.com",
		Nonce:    "dcd98b7102dd2f0e8b11d0f600bfb0c093",
		URI:      "/dir/index.html",
		Qop:      "auth",
		Nc:       "00000001",
		Cnonce:   "0a4f113b",
		Method:   "GET",
	}

	assert.Equal(t, "6629fae49393a05397450978507c4ef1", d.ComputeResponse())
}

func TestFromChallenge_SelectsAuthQop(t *testing.T) {
	ch := ParseChallenge(`Digest realm="api", qop="auth,auth-int", nonce="n1"`)
	d, err := FromChallenge(ch, "user", "pass", "GET", "/items")
	require.NoError(t, err)

	assert.Equal(t, "auth", d.Qop)
	assert.Equal(t, "00000001", d.Nc)
	assert.Len(t, d.Cnonce, 16)

	header := d.AuthorizationHeader()
	assert.Contains(t, header, `Digest username="user"`)
	assert.Contains(t, header, `uri="/items"`)
	assert.Contains(t, header, "qop=auth")
}

func TestFromChallenge_NoQop(t *testing.T) {
	ch := ParseChallenge(`Digest realm="api", nonce="n1", opaque="o1"`)
	d, err := FromChallenge(ch, "user", "pass", "GET", "/")
	require.NoError(t, err)

	header := d.AuthorizationHeader()
	assert.NotContains(t, header, "qop=")
	assert.Contains(t, header, `opaque="o1"`)
}
