package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// globalOptions hold the persistent flags shared by every command. Empty
// values leave the config file setting in place.
type globalOptions struct {
	configPath   string
	adapter      string
	timeout      string
	insecure     bool
	certFile     string
	keyFile      string
	proxy        string
	headers      []string
	noFollow     bool
	maxRedirects int
	noHTTP2      bool
	cachePolicy  string
	cachePath    string
	logLevel     string
	logEncoding  string
	metricsAddr  string
	noColor      bool
}

var globals globalOptions

var rootCmd = &cobra.Command{
	Use:   "nativehttp",
	Short: "HTTP client over a delegate-driven URL loading engine",
	Long: `nativehttp sends HTTP requests through a pluggable transport adapter.

The default "session" adapter hands every request to the urlsession engine
and blocks until the engine's callbacks deliver a response. The "http"
adapter uses net/http directly, which makes the two easy to compare.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	code := 1
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		err = ee.err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&globals.configPath, "config", getEnvString("NATIVEHTTP_CONFIG", ""), "Path to config file (env: NATIVEHTTP_CONFIG)")
	f.StringVar(&globals.adapter, "adapter", getEnvString("NATIVEHTTP_ADAPTER", ""), "Transport adapter: session, http (env: NATIVEHTTP_ADAPTER)")
	f.StringVar(&globals.timeout, "timeout", getEnvString("NATIVEHTTP_TIMEOUT", ""), "Request timeout (e.g., 30s, 1m) (env: NATIVEHTTP_TIMEOUT)")
	f.BoolVarP(&globals.insecure, "insecure", "k", getEnvBool("NATIVEHTTP_INSECURE", false), "Disable TLS certificate verification (env: NATIVEHTTP_INSECURE)")
	f.StringVar(&globals.certFile, "cert", getEnvString("NATIVEHTTP_CERT", ""), "Client certificate PEM file (env: NATIVEHTTP_CERT)")
	f.StringVar(&globals.keyFile, "key", getEnvString("NATIVEHTTP_KEY", ""), "Client key PEM file, defaults to --cert (env: NATIVEHTTP_KEY)")
	f.StringVar(&globals.proxy, "proxy", getEnvString("NATIVEHTTP_PROXY", ""), "Proxy URL (env: NATIVEHTTP_PROXY)")
	f.StringArrayVarP(&globals.headers, "header", "H", nil, "Default header \"Name: value\" (repeatable)")
	f.BoolVar(&globals.noFollow, "no-follow", getEnvBool("NATIVEHTTP_NO_FOLLOW", false), "Do not follow redirects (env: NATIVEHTTP_NO_FOLLOW)")
	f.IntVar(&globals.maxRedirects, "max-redirects", getEnvInt("NATIVEHTTP_MAX_REDIRECTS", 0), "Maximum redirects to follow (env: NATIVEHTTP_MAX_REDIRECTS)")
	f.BoolVar(&globals.noHTTP2, "no-http2", getEnvBool("NATIVEHTTP_NO_HTTP2", false), "Disable HTTP/2 in the session engine (env: NATIVEHTTP_NO_HTTP2)")
	f.StringVar(&globals.cachePolicy, "cache-policy", getEnvString("NATIVEHTTP_CACHE_POLICY", ""), "Engine cache policy: protocol, reload, cache-else-load, cache-only (env: NATIVEHTTP_CACHE_POLICY)")
	f.StringVar(&globals.cachePath, "cache-path", getEnvString("NATIVEHTTP_CACHE_PATH", ""), "SQLite file for the engine cache, memory if empty (env: NATIVEHTTP_CACHE_PATH)")
	f.StringVar(&globals.logLevel, "log-level", getEnvString("NATIVEHTTP_LOG_LEVEL", ""), "Log level: debug, info, warn, error (env: NATIVEHTTP_LOG_LEVEL)")
	f.StringVar(&globals.logEncoding, "log-encoding", getEnvString("NATIVEHTTP_LOG_ENCODING", ""), "Log encoding: console, json (env: NATIVEHTTP_LOG_ENCODING)")
	f.StringVar(&globals.metricsAddr, "metrics-addr", getEnvString("NATIVEHTTP_METRICS_ADDR", ""), "Serve Prometheus metrics on this address (env: NATIVEHTTP_METRICS_ADDR)")
	f.BoolVar(&globals.noColor, "no-color", getEnvBool("NATIVEHTTP_NO_COLOR", false), "Disable colored output (env: NATIVEHTTP_NO_COLOR)")

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
}

// commandContext returns the command's context, or Background when the
// command is invoked directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
