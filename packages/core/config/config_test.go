package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAndLoadConfig_Defaults(t *testing.T) {
	cfg, err := FindAndLoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, AdapterSession, cfg.Adapter)
	assert.True(t, cfg.GetVerify())
	assert.True(t, cfg.GetFollowRedirects())
	assert.True(t, cfg.GetHTTP2())
	assert.Equal(t, 10, cfg.MaxRedirects)
	assert.Equal(t, "30s", cfg.TimeoutDuration().String())
}

func TestFindAndLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NATIVEHTTP_TEST_TOKEN", "abc")
	content := `
adapter: http
timeout: 5000
verify: false
headers:
  X-Token: ${NATIVEHTTP_TEST_TOKEN}
cachePolicy: protocol
logLevel: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nativehttp.yaml"), []byte(content), 0644))

	cfg, err := FindAndLoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, AdapterHTTP, cfg.Adapter)
	assert.Equal(t, 5000, cfg.Timeout)
	assert.False(t, cfg.GetVerify())
	assert.True(t, cfg.GetFollowRedirects())
	assert.Equal(t, "abc", cfg.Headers["X-Token"])
	assert.Equal(t, "protocol", cfg.CachePolicy)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFindAndLoadConfig_SearchOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nativehttp.yml"), []byte("maxRedirects: 3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nativehttp.config.json"), []byte(`{"maxRedirects": 7}`), 0644))

	cfg, err := FindAndLoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRedirects)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativehttp.config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"proxy": "http://proxy:8080", "http2": false}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy:8080", cfg.Proxy)
	assert.False(t, cfg.GetHTTP2())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad yaml", "c.yaml", "adapter: [unclosed"},
		{"bad json", "c.json", "{"},
		{"unknown adapter", "c.yaml", "adapter: curl"},
		{"negative timeout", "c.yaml", "timeout: -1"},
		{"key without cert", "c.yaml", "keyFile: key.pem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestConfig_Merge(t *testing.T) {
	base := DefaultConfig()
	base.Headers = map[string]string{"A": "1"}

	merged := base.Merge(&Config{
		Adapter: AdapterHTTP,
		Verify:  BoolPtr(false),
		Headers: map[string]string{"B": "2"},
		Rate:    5,
	})

	assert.Equal(t, AdapterHTTP, merged.Adapter)
	assert.False(t, merged.GetVerify())
	assert.True(t, merged.GetFollowRedirects())
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, merged.Headers)
	assert.Equal(t, 5.0, merged.Rate)
	assert.Equal(t, map[string]string{"A": "1"}, base.Headers)
	assert.Same(t, base, base.Merge(nil))
}

func TestConfig_SaveConfig(t *testing.T) {
	for _, name := range []string{".nativehttp.yaml", "nativehttp.config.json"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := DefaultConfig()
			cfg.Proxy = "http://proxy:3128"
			require.NoError(t, cfg.SaveConfig(filepath.Join(dir, name)))

			loaded, err := FindAndLoadConfig(dir)
			require.NoError(t, err)
			assert.Equal(t, "http://proxy:3128", loaded.Proxy)
		})
	}
}

func TestConfig_LoadCertificate(t *testing.T) {
	cert, err := (&Config{}).LoadCertificate()
	require.NoError(t, err)
	assert.Nil(t, cert)

	_, err = (&Config{CertFile: "/nonexistent.pem"}).LoadCertificate()
	assert.Error(t, err)
}
