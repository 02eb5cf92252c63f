package log

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativehttp.log")

	logger, err := New(Config{Level: "debug", Encoding: "json", Output: "file:" + path})
	require.NoError(t, err)

	logger.Debug("task completed", zap.String("url", "http://example.com"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"task completed"`)
	assert.Contains(t, string(data), `"url":"http://example.com"`)
}

func TestNew_InvalidEncoding(t *testing.T) {
	_, err := New(Config{Encoding: "xml"})
	assert.Error(t, err)
}

func TestSafeHeaders(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	logger.Debug("request", SafeHeaders("headers", http.Header{
		"Authorization": {"Bearer secret"},
		"Accept":        {"application/json"},
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Accept=application/json; Authorization=<redacted>", entries[0].ContextMap()["headers"])
}
