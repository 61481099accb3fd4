package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/harness"
	"github.com/roach88/lockstep/internal/notiflog"
	"github.com/roach88/lockstep/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	NoHistory bool
	Repeat    int
	Filter    string // scenario filter (glob pattern on the file name)
	Channel   string // overrides scenario and config channel kind

	// IDs allows overriding the run ID generator (for testing).
	// If nil, the harness uses UUIDv7 run IDs.
	IDs engine.IDGenerator
}

// RunSummary is one execution of a scenario.
type RunSummary struct {
	RunID       string            `json:"run_id"`
	Pass        bool              `json:"pass"`
	Rounds      int               `json:"rounds"`
	TraceDigest string            `json:"trace_digest"`
	ElapsedMS   int64             `json:"elapsed_ms"`
	Failures    []harness.Failure `json:"failures,omitempty"`
}

// ScenarioResult holds every execution of a single scenario file.
type ScenarioResult struct {
	Name string `json:"name"`
	File string `json:"file"`
	Pass bool   `json:"pass"`

	// Stable is false if repeated runs disagreed on the verdict.
	Stable bool `json:"stable"`

	// SameTrace is false if repeated runs took different paths.
	SameTrace bool `json:"same_trace"`

	Runs   []RunSummary `json:"runs"`
	Errors []string     `json:"errors,omitempty"`
}

// RunResult holds the overall result of a run command.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <paths...>",
		Short: "Run scenarios",
		Long: `Run scenario files, or every scenario file under the given directories.

Each run is recorded in the history database unless --no-history is set.
With --repeat, every scenario runs N times and must reach the same verdict
each time.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed, were invalid or changed verdict
  2 - Command error (invalid paths, config or database errors, interrupted)

Examples:
  lockstep run ./scenarios
  lockstep run ./scenarios/subscribe_unsubscribe.yaml --repeat 5
  lockstep run ./scenarios --filter "subscribe_*" --db /tmp/history.db
  lockstep run ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (default from config)")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record runs")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "run each scenario N times and require a stable verdict")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "notification channel override (file|pipe)")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if opts.Repeat < 1 {
		return commandError(f, ErrCodeGeneric, fmt.Sprintf("--repeat must be at least 1, got %d", opts.Repeat), nil)
	}
	switch notiflog.Kind(opts.Channel) {
	case "", notiflog.KindFile, notiflog.KindPipe:
	default:
		return commandError(f, ErrCodeGeneric, fmt.Sprintf("invalid channel %q: must be file or pipe", opts.Channel), nil)
	}

	cfg, err := loadConfig(opts.RootOptions, f)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cfg, f.GetErrWriter())

	files, err := harness.FindScenarioFiles(paths)
	if err != nil {
		return commandError(f, ErrCodeNoScenarios, "failed to find scenarios", err)
	}
	files, err = filterScenarioFiles(files, opts.Filter)
	if err != nil {
		return commandError(f, ErrCodeGeneric, "invalid filter", err)
	}
	if len(files) == 0 {
		if f.JSON() {
			return f.Success(RunResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}

	var st *store.Store
	if !opts.NoHistory {
		path := opts.Database
		if path == "" {
			path = cfg.StorePath()
		}
		logger.Debug("opening history database", "path", path)
		st, err = store.Open(path)
		if err != nil {
			return commandError(f, ErrCodeDatabase, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &scenarioRunner{opts: opts, cfg: cfg, logger: logger, store: st, out: f}
	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		sr := r.run(ctx, file)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	result.Total = len(result.Scenarios)

	if err := outputRunResult(f, result); err != nil {
		return err
	}

	switch {
	case ctx.Err() != nil:
		return WrapExitError(ExitCommandError, "run interrupted", ctx.Err())
	case len(r.recordErrs) > 0:
		return WrapExitError(ExitCommandError, "failed to record history", errors.Join(r.recordErrs...))
	case result.Failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// filterScenarioFiles keeps files whose name, without extension, matches
// the glob pattern. An empty pattern keeps everything.
func filterScenarioFiles(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}

	kept := make([]string, 0, len(files))
	for _, file := range files {
		base := filepath.Base(file)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if ok, _ := filepath.Match(pattern, name); ok {
			kept = append(kept, file)
		}
	}
	return kept, nil
}

type scenarioRunner struct {
	opts       *RunOptions
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	out        *OutputFormatter
	recordErrs []error
}

// run loads one scenario file and executes it opts.Repeat times.
func (r *scenarioRunner) run(ctx context.Context, file string) ScenarioResult {
	base := filepath.Base(file)
	sr := ScenarioResult{
		Name:      strings.TrimSuffix(base, filepath.Ext(base)),
		File:      file,
		Stable:    true,
		SameTrace: true,
		Runs:      []RunSummary{},
	}

	s, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = errorLines("load error", err)
		r.printScenario(sr)
		return sr
	}
	sr.Name = s.Name

	for i := 0; i < r.opts.Repeat; i++ {
		if ctx.Err() != nil {
			sr.Errors = append(sr.Errors, "interrupted")
			break
		}
		res, err := harness.Run(ctx, s, harness.Options{
			Config:  r.cfg,
			Logger:  r.logger,
			IDs:     r.opts.IDs,
			Channel: notiflog.Kind(r.opts.Channel),
		})
		if err != nil {
			sr.Errors = append(sr.Errors, errorLines("execution error", err)...)
			break
		}

		if r.store != nil {
			if err := recordRun(ctx, r.store, res); err != nil {
				r.logger.Error("failed to record run", "run_id", res.RunID, "error", err)
				r.recordErrs = append(r.recordErrs, err)
			}
		}

		sr.Runs = append(sr.Runs, RunSummary{
			RunID:       res.RunID,
			Pass:        res.Pass,
			Rounds:      res.Rounds,
			TraceDigest: res.TraceDigest,
			ElapsedMS:   res.Elapsed.Milliseconds(),
			Failures:    res.Failures,
		})
	}

	verdicts := make([]bool, len(sr.Runs))
	for i, run := range sr.Runs {
		verdicts[i] = run.Pass
		if run.TraceDigest != sr.Runs[0].TraceDigest {
			sr.SameTrace = false
		}
	}
	sr.Stable = store.Stable(verdicts)
	if !sr.Stable {
		sr.Errors = append(sr.Errors, fmt.Sprintf("verdict changed across %d runs: %s", len(verdicts), verdictPattern(verdicts)))
	}

	sr.Pass = len(sr.Errors) == 0 && len(sr.Runs) == r.opts.Repeat
	for _, run := range sr.Runs {
		sr.Pass = sr.Pass && run.Pass
	}

	r.printScenario(sr)
	return sr
}

// errorLines splits a possibly multi-line error, such as ValidationErrors,
// into one message per line.
func errorLines(prefix string, err error) []string {
	var lines []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, prefix+": "+line)
		}
	}
	return lines
}

func verdictPattern(verdicts []bool) string {
	parts := make([]string, len(verdicts))
	for i, v := range verdicts {
		parts[i] = "fail"
		if v {
			parts[i] = "pass"
		}
	}
	return strings.Join(parts, ",")
}

// printScenario writes a scenario's text result as soon as it is known.
func (r *scenarioRunner) printScenario(sr ScenarioResult) {
	if r.out.JSON() {
		return
	}
	w := r.out.Writer

	mark := "✓"
	if !sr.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s%s\n", mark, sr.Name, runDetail(sr))

	for i, run := range sr.Runs {
		for _, failure := range run.Failures {
			if len(sr.Runs) > 1 {
				fmt.Fprintf(w, "  run %d: %s\n", i+1, failure)
			} else {
				fmt.Fprintf(w, "  %s\n", failure)
			}
		}
	}
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if !sr.SameTrace {
		r.out.VerboseLog("  %s: trace digest differed between runs", sr.Name)
	}
}

func runDetail(sr ScenarioResult) string {
	switch len(sr.Runs) {
	case 0:
		return ""
	case 1:
		run := sr.Runs[0]
		return fmt.Sprintf(" (%d rounds, %s)", run.Rounds, formatElapsed(run.ElapsedMS))
	}
	passed := 0
	for _, run := range sr.Runs {
		if run.Pass {
			passed++
		}
	}
	return fmt.Sprintf(" (%d/%d runs passed)", passed, len(sr.Runs))
}

func formatElapsed(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

// outputRunResult writes the summary for every scenario.
func outputRunResult(f *OutputFormatter, result RunResult) error {
	if f.JSON() {
		if result.Failed > 0 {
			return f.Failure(ErrCodeScenarioFailed, fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
		}
		return f.Success(result)
	}

	writeRunSummary(f.Writer, result)
	return nil
}

func writeRunSummary(w io.Writer, result RunResult) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
