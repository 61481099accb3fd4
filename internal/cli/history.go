package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Scenario string
	Limit    int
	Failed   bool
	RunID    string
}

// HistoryEntry is one run as listed by the history command.
type HistoryEntry struct {
	RunID       string `json:"run_id"`
	Seq         int64  `json:"seq"`
	Scenario    string `json:"scenario"`
	Pass        bool   `json:"pass"`
	Rounds      int    `json:"rounds"`
	Failures    int    `json:"failures"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	TraceDigest string `json:"trace_digest"`
}

// HistoryResult is the history listing, plus verdict stability per
// scenario digest among the listed runs.
type HistoryResult struct {
	Runs     []HistoryEntry `json:"runs"`
	Unstable []string       `json:"unstable,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded scenario runs",
		Long: `Show runs recorded by "lockstep run", newest first.

Scenarios whose recorded runs of one scenario digest disagree on the
verdict are reported as unstable. Use --run to show a single run with its
actor reports and failures.

Examples:
  lockstep history
  lockstep history --scenario subscribe_unsubscribe --limit 5
  lockstep history --failed --format json
  lockstep history --run 0190a1b2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (default from config)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only show runs of this scenario")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only show failed runs")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run in detail")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if opts.Limit < 0 {
		return commandError(f, ErrCodeGeneric, fmt.Sprintf("--limit must not be negative, got %d", opts.Limit), nil)
	}
	cfg, err := loadConfig(opts.RootOptions, f)
	if err != nil {
		return err
	}

	path := opts.Database
	if path == "" {
		path = cfg.StorePath()
	}
	st, err := openExisting(path)
	if err != nil {
		return commandError(f, ErrCodeDatabase, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.RunID != "" {
		return showRun(ctx, f, st, opts.RunID)
	}
	return listRuns(ctx, f, st, opts)
}

func listRuns(ctx context.Context, f *OutputFormatter, st *store.Store, opts *HistoryOptions) error {
	runs, err := st.ListRuns(ctx, store.Filter{
		Scenario:   opts.Scenario,
		FailedOnly: opts.Failed,
		Limit:      opts.Limit,
	})
	if err != nil {
		return commandError(f, ErrCodeDatabase, "failed to list runs", err)
	}

	result := HistoryResult{Runs: make([]HistoryEntry, len(runs))}
	checked := make(map[string]bool)
	for i, r := range runs {
		result.Runs[i] = HistoryEntry{
			RunID:       r.ID,
			Seq:         r.Seq,
			Scenario:    r.Scenario,
			Pass:        r.Pass,
			Rounds:      r.Rounds,
			Failures:    r.FailureCount,
			ElapsedMS:   r.Elapsed.Milliseconds(),
			TraceDigest: r.TraceDigest,
		}

		if checked[r.ScenarioHash] {
			continue
		}
		checked[r.ScenarioHash] = true
		verdicts, err := st.Verdicts(ctx, r.ScenarioHash)
		if err != nil {
			return commandError(f, ErrCodeDatabase, "failed to read verdicts", err)
		}
		if !store.Stable(verdicts) {
			result.Unstable = append(result.Unstable, r.Scenario)
		}
	}

	if f.JSON() {
		return f.Success(result)
	}
	writeHistory(f.Writer, result)
	return nil
}

func writeHistory(w io.Writer, result HistoryResult) {
	if len(result.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRUN\tSCENARIO\tVERDICT\tROUNDS\tFAILURES\tELAPSED")
	for _, r := range result.Runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.Seq, r.RunID, r.Scenario, verdict(r.Pass), r.Rounds, r.Failures, formatElapsed(r.ElapsedMS))
	}
	_ = tw.Flush()

	for _, name := range result.Unstable {
		fmt.Fprintf(w, "! %s: verdict changed between recorded runs\n", name)
	}
}

func showRun(ctx context.Context, f *OutputFormatter, st *store.Store, id string) error {
	r, err := st.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return commandError(f, ErrCodeRunNotFound, fmt.Sprintf("run not found: %s", id), nil)
	}
	if err != nil {
		return commandError(f, ErrCodeDatabase, "failed to read run", err)
	}

	if f.JSON() {
		return f.Success(r)
	}

	w := f.Writer
	fmt.Fprintf(w, "Run %s (#%d)\n", r.ID, r.Seq)
	fmt.Fprintf(w, "  scenario: %s\n", r.Scenario)
	fmt.Fprintf(w, "  verdict:  %s\n", verdict(r.Pass))
	fmt.Fprintf(w, "  rounds:   %d\n", r.Rounds)
	fmt.Fprintf(w, "  elapsed:  %s\n", r.Elapsed)
	fmt.Fprintf(w, "  digest:   %s\n", r.TraceDigest)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTOR\tSTATE\tSTEPS\tLAST ROUND")
	for _, a := range r.Actors {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\n", a.Name, a.State, a.StepsRun, a.StepsTotal, a.LastRound)
	}
	_ = tw.Flush()

	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failures:")
		for _, fl := range r.Failures {
			fmt.Fprintf(w, "  [%s] %s %s: %s\n", fl.Code, fl.Kind, failureLocation(fl), fl.Message)
		}
	}
	return nil
}

func failureLocation(f store.Failure) string {
	switch {
	case f.Actor == "":
		return "-"
	case f.Step < 0 && f.Round > 0:
		return fmt.Sprintf("%s round %d", f.Actor, f.Round)
	case f.Step < 0:
		return f.Actor
	}
	return fmt.Sprintf("%s round %d step %d (%s)", f.Actor, f.Round, f.Step, f.Op)
}

func verdict(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}
