package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/nativehttp/packages/core/env"
	"github.com/abdul-hamid-achik/nativehttp/packages/core/runner"
	"github.com/abdul-hamid-achik/nativehttp/packages/output"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>...",
	Short: "Run request suites",
	Long: `Run the request suites in the given files or directories. Suites are
YAML (.yaml, .yml) or .http files.

Examples:
  nativehttp run api.yaml
  nativehttp run users.http
  nativehttp run ./suites/ --name "create*"
  nativehttp run ./suites/ --tags smoke,auth
  nativehttp run ./suites/ --rate 20 --bail
  nativehttp run api.yaml --var baseUrl=http://localhost:8080
  nativehttp run ./suites/ --watch
  nativehttp run api.yaml --adapter http -o json --output-file results.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	envFileFlag    string
	nameFlag       string
	tagsFlag       []string
	varFlag        []string
	verboseFlag    bool
	bailFlag       bool
	rateFlag       float64
	outputFlag     string
	outputFileFlag string
	watchFlag      bool
)

func init() {
	runCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("NATIVEHTTP_ENV_FILE", ""), "Path to .env file for variable interpolation (env: NATIVEHTTP_ENV_FILE)")
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only requests matching name pattern")
	runCmd.Flags().StringSliceVarP(&tagsFlag, "tags", "t", nil, "Run only requests with one of these tags (comma-separated)")
	runCmd.Flags().StringArrayVar(&varFlag, "var", nil, "Suite variable name=value (repeatable)")

	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("NATIVEHTTP_VERBOSE", false), "Show passing checks (env: NATIVEHTTP_VERBOSE)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("NATIVEHTTP_OUTPUT", "console"), "Output format: console, json (env: NATIVEHTTP_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("NATIVEHTTP_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: NATIVEHTTP_OUTPUT_FILE)")

	runCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("NATIVEHTTP_BAIL", false), "Stop on first failure (env: NATIVEHTTP_BAIL)")
	runCmd.Flags().Float64Var(&rateFlag, "rate", getEnvFloat("NATIVEHTTP_RATE", 0), "Maximum requests per second, 0 for unlimited (env: NATIVEHTTP_RATE)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run suites")
}

// Formatter interface for all output formatters
type Formatter interface {
	FormatResult(result *runner.RunResult)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable interface for formatters that need to flush output
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

func newFormatter(w io.Writer, verbose, noColor bool) Formatter {
	switch strings.ToLower(outputFlag) {
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w))
	default: // "console"
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(verbose),
			output.WithNoColor(noColor),
		)
	}
}

// suiteVariables combines --env-file and --var, with --var taking
// precedence.
func suiteVariables() (map[string]any, error) {
	fileVars := map[string]any{}
	if envFileFlag != "" {
		loaded, err := env.LoadDotEnv(envFileFlag)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFileFlag, err)
		}
		for k, v := range loaded {
			fileVars[k] = v
		}
	}

	flagVars := map[string]any{}
	for _, kv := range varFlag {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q (use name=value)", kv)
		}
		flagVars[name] = value
	}
	return env.MergeVariables(fileVars, flagVars), nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	var out io.Writer = cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return fmt.Errorf("cannot create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	files, err := runner.FindSuites(args)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	if len(files) == 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("no suite files found"))
	}

	vars, err := suiteVariables()
	if err != nil {
		return withExitCode(ExitConfigError, err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := setupWorkspace(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	rate := w.config.Rate
	if rateFlag > 0 {
		rate = rateFlag
	}
	bail := bailFlag || w.config.GetBail()
	verbose := verboseFlag || w.config.GetVerbose()
	noColor := w.config.GetNoColor()

	newRunner := func() *runner.Runner {
		return runner.NewRunner(w.client, &runner.Config{
			Rate:       rate,
			Bail:       bail,
			NameFilter: nameFlag,
			Tags:       tagsFlag,
			Variables:  vars,
			Logger:     w.logger,
		})
	}

	runSuites := func(formatter Formatter) (failed int, loadErr bool) {
		start := time.Now()
		formatter.FormatHeader(version)

		for _, file := range files {
			if ctx.Err() != nil {
				break
			}
			result, err := newRunner().RunFile(ctx, file)
			if err != nil {
				formatter.FormatError(fmt.Errorf("%s: %w", file, err))
				loadErr = true
				if bail {
					break
				}
				continue
			}

			formatter.FormatResult(result)
			failed += result.Failed
			if bail && result.Failed > 0 {
				break
			}
		}

		if flushable, ok := formatter.(Flushable); ok {
			if err := flushable.Flush(time.Since(start)); err != nil {
				formatter.FormatError(fmt.Errorf("error writing output: %w", err))
			}
		}
		return failed, loadErr
	}

	failed, loadErr := runSuites(newFormatter(out, verbose, noColor))

	if !watchFlag {
		switch {
		case loadErr:
			return withExitCode(ExitParseError, nil)
		case failed > 0:
			return withExitCode(ExitTestFailure, nil)
		}
		return nil
	}

	return watchSuites(ctx, cmd.OutOrStdout(), files, func() {
		runSuites(newFormatter(out, verbose, noColor))
	})
}

// watchSuites re-runs rerun whenever a suite or .env file in the watched
// directories is written, until ctx is done.
func watchSuites(ctx context.Context, out io.Writer, files []string, rerun func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	for _, file := range files {
		dir := filepath.Dir(file)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		watchedDirs[dir] = true
	}

	fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	// rerun must not overlap itself, so the debounced callback only signals.
	trigger := make(chan string, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isWatchedFile(event.Name) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case trigger <- name:
				default:
				}
			})

		case name := <-trigger:
			fmt.Fprintf(out, "\n\nFile changed: %s\nRe-running suites...\n\n", name)
			rerun()
			fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

func isWatchedFile(path string) bool {
	base := filepath.Base(path)
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml" || ext == ".http"
}
