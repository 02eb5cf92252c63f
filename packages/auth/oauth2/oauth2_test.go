package oauth2

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/adapter"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	hits   atomic.Int32
	grants chan string
}

// newTokenServer challenges for Basic client auth like a real token
// endpoint, and also accepts credentials in the form.
func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	ts := &tokenServer{grants: make(chan string, 10)}
	ts.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_ = r.ParseForm()
		id, secret, ok := r.BasicAuth()
		if !ok {
			id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		if id != "app" || secret != "pw" {
			w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(nethttp.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid_client", "error_description": "bad client"}`))
			return
		}

		n := ts.hits.Add(1)
		ts.grants <- r.PostForm.Get("grant_type")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "at-%d", "token_type": "bearer", "expires_in": %d, "refresh_token": "rt-%d", "scope": %q}`,
			n, expiresIn, n, r.PostForm.Get("scope"))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func sessionClient(t *testing.T) *http.Client {
	client := http.NewClient(http.WithAdapter(adapter.New()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestProvider_ClientCredentials(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p := NewProvider(&Config{
		GrantType:    ClientCredentials,
		TokenURL:     ts.URL,
		ClientID:     "app",
		ClientSecret: "pw",
		Scopes:       []string{"read", "write"},
	}, sessionClient(t), nil)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", token.AccessToken)
	assert.Equal(t, "read write", token.Scope)
	assert.False(t, token.IsExpired())
	assert.Equal(t, "client_credentials", <-ts.grants)

	again, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Same(t, token, again)
	assert.Equal(t, int32(1), ts.hits.Load())
}

func TestProvider_ClientAuthInBody(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p := NewProvider(&Config{
		TokenURL:         ts.URL,
		ClientID:         "app",
		ClientSecret:     "pw",
		ClientAuthInBody: true,
	}, sessionClient(t), nil)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", token.AccessToken)
}

func TestProvider_RefreshesExpired(t *testing.T) {
	// Tokens expire within the skew, so every call refreshes.
	ts := newTokenServer(t, 1)
	cache := NewTokenCache()
	p := NewProvider(&Config{
		GrantType:    Password,
		TokenURL:     ts.URL,
		ClientID:     "app",
		ClientSecret: "pw",
		Username:     "alice",
		Password:     "wonderland",
	}, sessionClient(t), cache)

	first, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, first.IsExpired())
	assert.Equal(t, "password", <-ts.grants)

	second, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-2", second.AccessToken)
	assert.Equal(t, "refresh_token", <-ts.grants)
	assert.Equal(t, 1, cache.Len())
}

func TestProvider_ErrorResponse(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p := NewProvider(&Config{TokenURL: ts.URL, ClientID: "app", ClientSecret: "wrong"}, sessionClient(t), nil)

	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_client - bad client")
}

func TestToken_IsExpired(t *testing.T) {
	assert.False(t, (&Token{}).IsExpired())
	assert.True(t, (&Token{ExpiresAt: time.Now().Add(10 * time.Second)}).IsExpired())
	assert.False(t, (&Token{ExpiresAt: time.Now().Add(time.Hour)}).IsExpired())
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		params  []string
		want    *Config
		wantErr bool
	}{
		{
			name:   "client credentials with scopes",
			params: []string{"client_credentials", "https://auth/token", "id", "secret", "a,b"},
			want: &Config{GrantType: ClientCredentials, TokenURL: "https://auth/token", ClientID: "id",
				ClientSecret: "secret", Scopes: []string{"a", "b"}},
		},
		{
			name:   "password",
			params: []string{"password", "https://auth/token", "id", "secret", "user", "pass"},
			want: &Config{GrantType: Password, TokenURL: "https://auth/token", ClientID: "id",
				ClientSecret: "secret", Username: "user", Password: "pass"},
		},
		{name: "too short", params: []string{"client_credentials", "u"}, wantErr: true},
		{name: "password without user", params: []string{"password", "u", "id", "secret"}, wantErr: true},
		{name: "unknown grant", params: []string{"implicit", "u", "id", "secret"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
