package env

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/rand/v2"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Func is a builtin callable from a placeholder.
type Func func(args []string) string

var funcCallPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

var builtins = map[string]Func{
	"uuid":         func([]string) string { return uuid.NewString() },
	"now":          func([]string) string { return time.Now().UTC().Format(time.RFC3339) },
	"timestamp":    func([]string) string { return strconv.FormatInt(time.Now().Unix(), 10) },
	"timestampMs":  func([]string) string { return strconv.FormatInt(time.Now().UnixMilli(), 10) },
	"random":       funcRandom,
	"randomString": funcRandomString,
	"base64":       func(args []string) string { return base64.StdEncoding.EncodeToString([]byte(first(args))) },
	"sha256": func(args []string) string {
		sum := sha256.Sum256([]byte(first(args)))
		return hex.EncodeToString(sum[:])
	},
	"urlEncode": func(args []string) string { return url.QueryEscape(first(args)) },
	"env":       func(args []string) string { return os.Getenv(first(args)) },
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// random(max) or random(min, max), inclusive.
func funcRandom(args []string) string {
	lo, hi := 0, 100
	switch len(args) {
	case 1:
		hi, _ = strconv.Atoi(args[0])
	case 2:
		lo, _ = strconv.Atoi(args[0])
		hi, _ = strconv.Atoi(args[1])
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return strconv.Itoa(lo + rand.IntN(hi-lo+1))
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func funcRandomString(args []string) string {
	n := 16
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rand.IntN(len(alphanumeric))]
	}
	return string(b)
}

// call evaluates a function call expression. ok is false when expr is not
// a call or names an unknown function.
func call(expr string) (string, bool) {
	m := funcCallPattern.FindStringSubmatch(expr)
	if m == nil {
		return "", false
	}
	fn, ok := builtins[m[1]]
	if !ok {
		return "", false
	}
	return fn(parseArgs(m[2])), true
}

// parseArgs splits a comma separated argument list. Quotes group commas and
// are removed.
func parseArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var (
		args    []string
		current strings.Builder
		quote   byte
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && ch == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	return append(args, strings.TrimSpace(current.String()))
}
