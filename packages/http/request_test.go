package http

import (
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Prepare(t *testing.T) {
	req := NewRequest("post", "https://example.com/items").
		SetHeader("X-Trace", "abc").
		SetQueryParam("page", "2")
	req.SetForm(url.Values{"name": {"widget"}})

	prep, err := req.Prepare(map[string]string{"User-Agent": "nativehttp", "X-Trace": "default"})
	require.NoError(t, err)

	assert.Equal(t, "POST", prep.Method)
	assert.Equal(t, "https://example.com/items?page=2", prep.URL)
	assert.Equal(t, "abc", prep.Header.Get("X-Trace"))
	assert.Equal(t, "nativehttp", prep.Header.Get("User-Agent"))
	assert.Equal(t, "application/x-www-form-urlencoded", prep.Header.Get("Content-Type"))
	assert.Equal(t, "name=widget", string(prep.Body))
	assert.Nil(t, prep.Auth)
}

func TestRequest_PrepareInvalidURL(t *testing.T) {
	_, err := NewRequest("GET", "file:///etc/passwd").Prepare(nil)
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestRequest_SetJSON(t *testing.T) {
	req, err := NewRequest("POST", "https://example.com").SetJSON(map[string]int{"n": 1})
	require.NoError(t, err)

	assert.Equal(t, `{"n":1}`, req.Body)
	assert.Equal(t, "application/json", req.Headers["Content-Type"])
}

func TestRequest_ApplyAuth(t *testing.T) {
	tests := []struct {
		name  string
		auth  *AuthConfig
		check func(t *testing.T, r *Request)
	}{
		{
			name: "bearer",
			auth: &AuthConfig{Type: AuthBearer, Params: []string{"tok"}},
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "Bearer tok", r.Headers["Authorization"])
			},
		},
		{
			name: "api key header",
			auth: &AuthConfig{Type: AuthAPIKey, Params: []string{"X-Api-Key", "k"}},
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "k", r.Headers["X-Api-Key"])
			},
		},
		{
			name: "api key query",
			auth: &AuthConfig{Type: AuthAPIKeyQuery, Params: []string{"key", "k"}},
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "k", r.QueryParams["key"])
			},
		},
		{
			name: "digest",
			auth: &AuthConfig{Type: AuthDigest, Params: []string{"u", "p"}},
			check: func(t *testing.T, r *Request) {
				require.NotNil(t, r.DigestAuth)
				assert.Empty(t, r.Headers["Authorization"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRequest("GET", "https://example.com")
			r.Auth = tt.auth
			r.ApplyAuth()
			tt.check(t, r)
		})
	}
}

func TestParseAuthType(t *testing.T) {
	got, err := ParseAuthType(" Digest ")
	require.NoError(t, err)
	assert.Equal(t, AuthDigest, got)

	_, err = ParseAuthType("kerberos")
	assert.Error(t, err)
}

func TestBuildMultipartBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.txt"), []byte("file content"), 0o600))

	body, contentType, err := BuildMultipartBody([]*MultipartField{
		{Type: MultipartFieldValue, Name: "title", Value: "report"},
		{Type: MultipartFieldFile, Name: "file", Path: "upload.txt"},
	}, dir)
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)

	assert.Equal(t, []string{"report"}, form.Value["title"])
	require.Len(t, form.File["file"], 1)
	assert.Equal(t, "upload.txt", form.File["file"][0].Filename)

	_, _, err = BuildMultipartBody([]*MultipartField{
		{Type: MultipartFieldFile, Name: "file", Path: "../outside.txt"},
	}, dir)
	assert.ErrorContains(t, err, "path traversal")
}

func TestSignAWSRequest(t *testing.T) {
	prep := &PreparedRequest{
		Method: "GET",
		URL:    "https://examplebucket.s3.amazonaws.com/test.txt?b=2&a=1",
		Header: make(map[string][]string),
	}
	creds := &AWSAuthCredentials{AccessKey: "AKID", SecretKey: "secret", Region: "us-east-1", Service: "s3"}
	now := time.Date(2013, 5, 24, 0, 0, 0, 0, time.UTC)

	require.NoError(t, SignAWSRequest(prep, creds, now))

	auth := prep.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKID/20130524/us-east-1/s3/aws4_request"))
	assert.Contains(t, auth, "SignedHeaders=host;x-amz-date")
	assert.Equal(t, "20130524T000000Z", prep.Header.Get("X-Amz-Date"))
	assert.Equal(t, "examplebucket.s3.amazonaws.com", prep.Header.Get("Host"))

	again := prep.Clone()
	require.NoError(t, SignAWSRequest(again, creds, now))
	assert.Equal(t, auth, again.Header.Get("Authorization"), "signing is deterministic")

	assert.Error(t, SignAWSRequest(prep, nil, now))
}

func TestParseFormBody(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b c": "d"}, ParseFormBody("a=1&b+c=d"))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url    string
		errMsg string
	}{
		{"http://example.com/path", ""},
		{"https://example.com:8443/path?q=1", ""},
		{"ftp://example.com", "unsupported URL scheme"},
		{"example.com/path", "unsupported URL scheme"},
		{"file:///etc/passwd", "unsupported URL scheme"},
		{"http:///path", "URL must have a host"},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.errMsg == "" {
			assert.NoError(t, err, tt.url)
			continue
		}
		if assert.Error(t, err, tt.url) {
			assert.Contains(t, err.Error(), tt.errMsg)
		}
	}
}

func TestValidatePathWithinBase(t *testing.T) {
	base := t.TempDir()

	assert.NoError(t, validatePathWithinBase(filepath.Join(base, "upload.bin"), base))
	assert.NoError(t, validatePathWithinBase("/any/path", ""))

	for _, p := range []string{filepath.Join(base, "..", "..", "etc", "passwd"), "../../etc/passwd"} {
		err := validatePathWithinBase(p, base)
		if assert.Error(t, err, p) {
			assert.Contains(t, err.Error(), "path traversal")
		}
	}
}
