package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/http"
)

// GrantType represents the OAuth2 grant type
type GrantType string

const (
	ClientCredentials GrantType = "client_credentials"
	Password          GrantType = "password"
	RefreshToken      GrantType = "refresh_token"
)

// expirySkew is subtracted from a token's lifetime to absorb clock skew.
const expirySkew = 30 * time.Second

// Config holds OAuth2 configuration
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Username     string // For password grant
	Password     string // For password grant
	GrantType    GrantType
	// ClientAuthInBody sends client_id and client_secret as form fields
	// instead of HTTP Basic. The session adapter only answers Basic when the
	// token endpoint challenges, so endpoints that reply 401 without
	// WWW-Authenticate need this.
	ClientAuthInBody bool
}

// Token represents an OAuth2 access token
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"-"`
}

// IsExpired reports whether the token is expired or about to be.
func (t *Token) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(expirySkew).After(t.ExpiresAt)
}

// Provider fetches tokens through a nativehttp client, so token requests
// use the same adapter, trust and proxy settings as the requests they
// authorize.
type Provider struct {
	config *Config
	client *http.Client
	cache  *TokenCache
}

// NewProvider creates a provider. A nil cache gives the provider its own.
func NewProvider(config *Config, client *http.Client, cache *TokenCache) *Provider {
	if cache == nil {
		cache = NewTokenCache()
	}
	return &Provider{config: config, client: client, cache: cache}
}

// Token returns a cached token while it is valid, refreshing or fetching a
// new one otherwise.
func (p *Provider) Token(ctx context.Context) (*Token, error) {
	key := p.cacheKey()
	cached := p.cache.Get(key)
	if cached != nil && !cached.IsExpired() {
		return cached, nil
	}

	var (
		token *Token
		err   error
	)
	if cached != nil && cached.RefreshToken != "" {
		token, err = p.Refresh(ctx, cached.RefreshToken)
	}
	if token == nil {
		token, err = p.fetch(ctx)
	}
	if err != nil {
		return nil, err
	}

	p.cache.Set(key, token)
	return token, nil
}

func (p *Provider) cacheKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", p.config.TokenURL, p.config.ClientID, p.config.Username, strings.Join(p.config.Scopes, ","))
}

func (p *Provider) fetch(ctx context.Context) (*Token, error) {
	data := url.Values{}
	switch p.config.GrantType {
	case Password:
		data.Set("grant_type", string(Password))
		data.Set("username", p.config.Username)
		data.Set("password", p.config.Password)
	default:
		data.Set("grant_type", string(ClientCredentials))
	}
	if len(p.config.Scopes) > 0 {
		data.Set("scope", strings.Join(p.config.Scopes, " "))
	}
	return p.tokenRequest(ctx, data)
}

// Refresh exchanges a refresh token for a new access token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", string(RefreshToken))
	data.Set("refresh_token", refreshToken)
	return p.tokenRequest(ctx, data)
}

func (p *Provider) tokenRequest(ctx context.Context, data url.Values) (*Token, error) {
	req := http.NewRequest("POST", p.config.TokenURL)
	req.SetHeader("Accept", "application/json")

	if p.config.ClientID != "" {
		if p.config.ClientAuthInBody || p.config.ClientSecret == "" {
			data.Set("client_id", p.config.ClientID)
			if p.config.ClientSecret != "" {
				data.Set("client_secret", p.config.ClientSecret)
			}
		} else {
			req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
		}
	}
	req.SetForm(data)

	resp, err := p.client.DoContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if err := resp.ReadBody(); err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != 200 {
		if e := resp.JSON("error").String(); e != "" {
			return nil, fmt.Errorf("token request failed: %s - %s", e, resp.JSON("error_description").String())
		}
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, resp.BodyString())
	}

	var token Token
	if err := json.Unmarshal(resp.Body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	if token.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return &token, nil
}

// ParseParams builds a config from positional suite parameters:
//
//	client_credentials tokenUrl clientId clientSecret [scope1,scope2]
//	password tokenUrl clientId clientSecret username password [scope1,scope2]
func ParseParams(params []string) (*Config, error) {
	if len(params) < 4 {
		return nil, fmt.Errorf("oauth2 auth requires at least: grant_type tokenUrl clientId clientSecret")
	}

	config := &Config{
		GrantType:    GrantType(params[0]),
		TokenURL:     params[1],
		ClientID:     params[2],
		ClientSecret: params[3],
	}

	switch config.GrantType {
	case ClientCredentials:
		if len(params) > 4 && params[4] != "" {
			config.Scopes = strings.Split(params[4], ",")
		}
	case Password:
		if len(params) < 6 {
			return nil, fmt.Errorf("oauth2 password grant requires: tokenUrl clientId clientSecret username password [scopes]")
		}
		config.Username = params[4]
		config.Password = params[5]
		if len(params) > 6 && params[6] != "" {
			config.Scopes = strings.Split(params[6], ",")
		}
	default:
		return nil, fmt.Errorf("unsupported OAuth2 grant type: %s", config.GrantType)
	}

	return config, nil
}
