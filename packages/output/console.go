package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/runner"
	"github.com/abdul-hamid-achik/nativehttp/packages/http"
	"github.com/fatih/color"
)

// formatValue formats a value for display, truncating or summarizing large values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case nil:
		return "<none>"
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

// formatExpected prefixes the expected value with the check's operator.
func formatExpected(c *runner.Check) string {
	switch c.Operator {
	case "":
		return formatValue(c.Expected, 100)
	case "exists", "!exists":
		return c.Operator
	}
	return c.Operator + " " + formatValue(c.Expected, 100)
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return color.New(color.FgRed, color.Bold)
	case code >= 400:
		return color.New(color.FgYellow, color.Bold)
	case code >= 300:
		return color.New(color.FgCyan, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

// FormatResponse prints a single response: status line, headers when
// verbose, then the body.
func (f *ConsoleFormatter) FormatResponse(resp *http.Response) {
	faint := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(f.writer, "%s %s %s\n",
		faint(resp.Proto),
		statusColor(resp.StatusCode).Sprint(resp.Status),
		faint(fmt.Sprintf("(%dms)", resp.DurationMs())))

	if f.verbose {
		for _, prev := range resp.History {
			fmt.Fprintf(f.writer, "%s %d %s\n", faint("redirect"), prev.StatusCode, prev.Header("Location"))
		}
		names := make([]string, 0, len(resp.Headers))
		for name := range resp.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		cyan := color.New(color.FgCyan).SprintFunc()
		for _, name := range names {
			fmt.Fprintf(f.writer, "%s: %s\n", cyan(name), strings.Join(resp.Headers[name], ", "))
		}
	}

	if len(resp.Body) > 0 {
		fmt.Fprintf(f.writer, "\n%s", resp.Body)
		if resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Fprintln(f.writer)
		}
	}
}

func (f *ConsoleFormatter) FormatResult(result *runner.RunResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	title := result.Name
	if result.File != "" {
		title = result.File
	}
	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Running: "+title))

	for _, r := range result.Results {
		if r.Skipped {
			fmt.Fprintf(f.writer, "  %s %s", yellow("-"), r.Name)
			if r.SkipReason != "" && r.SkipReason != "filtered out" {
				fmt.Fprintf(f.writer, " (%s)", r.SkipReason)
			}
			fmt.Fprintf(f.writer, "\n")
			continue
		}

		if r.Error != nil {
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("x"), r.Name, red(fmt.Sprintf("(%v)", r.Error)))
			continue
		}

		symbol := green("✓")
		if !r.Passed {
			symbol = red("✗")
		}
		fmt.Fprintf(f.writer, "  %s %s %s\n", symbol, r.Name, cyan(fmt.Sprintf("(%dms)", r.Duration.Milliseconds())))

		if f.verbose && r.Response != nil {
			fmt.Fprintf(f.writer, "    %s %s -> %d\n", r.Method, r.URL, r.Response.StatusCode)
		}

		if l := r.Latency; l != nil {
			fmt.Fprintf(f.writer, "    %d runs  p50 %s  p90 %s  p99 %s  max %s\n", l.Count, l.P50, l.P90, l.P99, l.Max)
		}

		for _, c := range r.Failed() {
			fmt.Fprintf(f.writer, "    %s %s\n", red("→"), c.Subject)
			fmt.Fprintf(f.writer, "      Expected: %s\n", formatExpected(c))
			fmt.Fprintf(f.writer, "      Actual:   %s\n", formatValue(c.Actual, 100))
			if c.Message != "" {
				fmt.Fprintf(f.writer, "      %s\n", c.Message)
			}
		}

		if f.verbose && len(r.Captures) > 0 {
			fmt.Fprintf(f.writer, "    Captures:\n")
			for name, value := range r.Captures {
				fmt.Fprintf(f.writer, "      %s = %s\n", name, formatValue(value, 100))
			}
		}
	}

	fmt.Fprintf(f.writer, "\nTests: ")
	if result.Passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", result.Passed)))
	}
	if result.Failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", result.Failed)))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d skipped", result.Skipped)))
	}
	total := result.Passed + result.Failed + result.Skipped
	fmt.Fprintf(f.writer, "%d total\n", total)
	fmt.Fprintf(f.writer, "Time:  %dms\n\n", result.Duration.Milliseconds())
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("nativehttp"), version)
}
