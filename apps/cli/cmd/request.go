package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/abdul-hamid-achik/nativehttp/packages/adapter"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/abdul-hamid-achik/nativehttp/packages/output"
	"github.com/abdul-hamid-achik/nativehttp/packages/sse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var requestCmd = &cobra.Command{
	Use:   "request [METHOD] <url>",
	Short: "Send a single request",
	Long: `Send one request through the configured adapter and print the response.

Examples:
  nativehttp request https://example.com
  nativehttp request POST https://httpbin.org/post -f name=alice -f age=30
  nativehttp request PUT https://httpbin.org/put --json '{"id": 1}'
  nativehttp request https://self-signed.local -k --adapter session
  nativehttp request https://httpbin.org/digest-auth/auth/u/p -u u:p --digest
  nativehttp request https://httpbin.org/stream/20 --stream`,
	Args: cobra.RangeArgs(1, 2),
	RunE: requestCommand,
}

var (
	reqDataFlag    string
	reqJSONFlag    string
	reqFormFlag    []string
	reqQueryFlag   []string
	reqUserFlag    string
	reqDigestFlag  bool
	reqBearerFlag  string
	reqStreamFlag  bool
	reqOutputFlag  string
	reqVerboseFlag bool
	reqFailFlag    bool
)

func init() {
	f := requestCmd.Flags()
	f.StringVarP(&reqDataFlag, "data", "d", "", "Request body; @file reads it from a file")
	f.StringVar(&reqJSONFlag, "json", "", "JSON request body, sets Content-Type")
	f.StringArrayVarP(&reqFormFlag, "form", "f", nil, "Form field name=value, sends application/x-www-form-urlencoded (repeatable)")
	f.StringArrayVarP(&reqQueryFlag, "query", "q", nil, "Query parameter name=value (repeatable)")
	f.StringVarP(&reqUserFlag, "user", "u", getEnvString("NATIVEHTTP_USER", ""), "Credentials user:password (env: NATIVEHTTP_USER)")
	f.BoolVar(&reqDigestFlag, "digest", false, "Use digest instead of basic auth for --user")
	f.StringVar(&reqBearerFlag, "bearer", getEnvString("NATIVEHTTP_TOKEN", ""), "Bearer token (env: NATIVEHTTP_TOKEN)")
	f.BoolVar(&reqStreamFlag, "stream", false, "Stream the body to stdout as it arrives")
	f.StringVarP(&reqOutputFlag, "output", "o", getEnvString("NATIVEHTTP_OUTPUT", "console"), "Output format: console, json (env: NATIVEHTTP_OUTPUT)")
	f.BoolVarP(&reqVerboseFlag, "verbose", "v", false, "Show headers and redirect history")
	f.BoolVar(&reqFailFlag, "fail", false, "Exit with status 1 on HTTP errors (status >= 400)")
}

func requestCommand(cmd *cobra.Command, args []string) error {
	method, target := "", args[0]
	if len(args) == 2 {
		method, target = strings.ToUpper(args[0]), args[1]
	}

	req, err := buildCLIRequest(method, target)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := setupWorkspace(ctx, http.WithStream(reqStreamFlag))
	if err != nil {
		return err
	}
	defer w.Close()

	out := cmd.OutOrStdout()
	resp, err := w.client.DoContext(ctx, req)
	if err != nil {
		w.logger.Debug("request failed", zap.Error(err))
		var terr *adapter.TransportError
		if errors.As(err, &terr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return withExitCode(ExitNetworkError, err)
		}
		return err
	}
	defer resp.Close()

	switch strings.ToLower(reqOutputFlag) {
	case "json":
		if resp.Raw != nil {
			body, err := io.ReadAll(resp.Raw)
			if err != nil {
				return withExitCode(ExitNetworkError, err)
			}
			resp.Body = body
		}
		if err := output.NewJSONFormatter(output.JSONWithWriter(out)).FormatResponse(resp); err != nil {
			return fmt.Errorf("error writing output: %w", err)
		}
	default:
		formatter := output.NewConsoleFormatter(
			output.WithWriter(out),
			output.WithVerbose(reqVerboseFlag || w.config.GetVerbose()),
			output.WithNoColor(w.config.GetNoColor()),
		)
		formatter.FormatResponse(resp)
		if resp.Raw != nil && sse.IsEventStream(resp) {
			fmt.Fprintln(out)
			err := sse.Read(ctx, resp, func(ev *sse.Event) bool {
				printEvent(out, ev)
				return true
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return withExitCode(ExitNetworkError, err)
			}
		} else if resp.Raw != nil {
			fmt.Fprintln(out)
			if _, err := io.Copy(out, resp.Raw); err != nil {
				return withExitCode(ExitNetworkError, err)
			}
		}
	}

	if reqFailFlag && resp.StatusCode >= 400 {
		return withExitCode(ExitTestFailure, nil)
	}
	return nil
}

func printEvent(w io.Writer, ev *sse.Event) {
	typ := ev.Type
	if typ == "" {
		typ = "message"
	}
	if ev.ID != "" {
		fmt.Fprintf(w, "[%s #%s] %s\n", typ, ev.ID, ev.Data)
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", typ, ev.Data)
}

// buildCLIRequest turns the request flags into a Request. An empty method
// means GET, or POST when a body flag is present.
func buildCLIRequest(method, target string) (*http.Request, error) {
	bodies := 0
	for _, set := range []bool{reqDataFlag != "", reqJSONFlag != "", len(reqFormFlag) > 0} {
		if set {
			bodies++
		}
	}
	if bodies > 1 {
		return nil, fmt.Errorf("--data, --json and --form are mutually exclusive")
	}
	if method == "" {
		method = "GET"
		if bodies > 0 {
			method = "POST"
		}
	}
	if err := http.ValidateURL(target); err != nil {
		return nil, err
	}

	req := http.NewRequest(method, target)

	for _, q := range reqQueryFlag {
		name, value, ok := strings.Cut(q, "=")
		if !ok {
			return nil, fmt.Errorf("invalid query parameter %q (use name=value)", q)
		}
		req.SetQueryParam(name, value)
	}

	switch {
	case reqDataFlag != "":
		body := reqDataFlag
		if path, ok := strings.CutPrefix(body, "@"); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading body: %w", err)
			}
			body = string(data)
		}
		req.SetBody(body)
	case reqJSONFlag != "":
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(reqJSONFlag)
	case len(reqFormFlag) > 0:
		values := url.Values{}
		for _, field := range reqFormFlag {
			name, value, ok := strings.Cut(field, "=")
			if !ok {
				return nil, fmt.Errorf("invalid form field %q (use name=value)", field)
			}
			values.Add(name, value)
		}
		req.SetForm(values)
	}

	if reqUserFlag != "" {
		user, pass, _ := strings.Cut(reqUserFlag, ":")
		if reqDigestFlag {
			req.SetDigestAuth(user, pass)
		} else {
			req.SetBasicAuth(user, pass)
		}
	} else if reqBearerFlag != "" {
		req.SetBearerToken(reqBearerFlag)
	}

	return req, nil
}
