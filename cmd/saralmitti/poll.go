package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/saralmitti"
	"github.com/jpalmerr/saralmitti/config"
)

// pollFlags are shared by poll and analyze.
type pollFlags struct {
	json     bool
	field    string
	attempts int
	delay    time.Duration
	token    string
	quiet    bool
}

func (f *pollFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.json, "json", false, "print the result as JSON")
	cmd.Flags().StringVar(&f.field, "field", "", "print a single result field, e.g. soil.pH or crops.0.name")
	cmd.Flags().IntVar(&f.attempts, "attempts", 0, "status queries per job (default from config)")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "initial delay between queries (default from config)")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer credential, overrides the config")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not report progress")
}

// options converts the flags into per-call poll options.
func (f *pollFlags) options() []saralmitti.PollOption {
	var opts []saralmitti.PollOption
	if f.attempts > 0 {
		opts = append(opts, saralmitti.WithAttempts(f.attempts))
	}
	if f.delay > 0 {
		opts = append(opts, saralmitti.WithDelay(f.delay))
	}
	if f.token != "" {
		opts = append(opts, saralmitti.WithCredential(f.token))
	}
	return opts
}

// buildPoller loads the config and creates a poller reporting progress to
// the command's stderr.
func (f *pollFlags) buildPoller(cmd *cobra.Command) (*saralmitti.ResultPoller, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	var extra []saralmitti.Option
	if !f.quiet && !f.json && f.field == "" {
		extra = append(extra, saralmitti.WithAttemptCallback(progressReporter(cmd.ErrOrStderr())))
	}

	rp, err := config.BuildPoller(cfg, commandLogger(cmd), extra...)
	if err != nil {
		return nil, fmt.Errorf("invalid poller settings: %w", err)
	}
	return rp, nil
}

func newPollCmd() *cobra.Command {
	var flags pollFlags

	cmd := &cobra.Command{
		Use:   "poll <job-id> [job-id...]",
		Short: "Wait for uploaded jobs to finish",
		Long: `Poll the analysis service until each job completes, fails or runs out of
attempts.

With one job id the full result is printed. With several, jobs are polled
concurrently and one summary line is printed per job as it finishes.

Exit codes:
  0 - every job completed
  1 - at least one job failed, timed out or could not be queried

Example:
  saralmitti poll 3f1c9a2e-...
  saralmitti poll mock-1718000000000 --field soil.pH
  saralmitti poll job-1 job-2 job-3 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rp, err := flags.buildPoller(cmd)
			if err != nil {
				return err
			}
			defer rp.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if len(args) == 1 {
				result, err := rp.PollResult(ctx, args[0], flags.options()...)
				if err != nil {
					return errors.New(userMessage(err))
				}
				return printResult(cmd.OutOrStdout(), result, flags)
			}
			return pollMany(ctx, cmd.OutOrStdout(), rp, args, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// batchLine is the JSON form of one job in a multi-job poll.
type batchLine struct {
	ID     string                     `json:"id"`
	Result *saralmitti.AnalysisResult `json:"result,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

func pollMany(ctx context.Context, out io.Writer, rp *saralmitti.ResultPoller, ids []string, flags pollFlags) error {
	enc := json.NewEncoder(out)
	total, failed := 0, 0

	for br := range rp.PollAll(ctx, ids, flags.options()...) {
		total++
		if br.Err != nil {
			failed++
		}

		if flags.json {
			line := batchLine{ID: br.JobID, Result: br.Result}
			if br.Err != nil {
				line.Error = userMessage(br.Err)
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
			continue
		}

		switch {
		case br.Err != nil:
			fmt.Fprintf(out, "%s: %s\n", br.JobID, userMessage(br.Err))
		default:
			top, ok := br.Result.TopCrop()
			if ok {
				fmt.Fprintf(out, "%s: completed, %s soil, best crop %s (%.0f%%)\n",
					br.JobID, br.Result.Soil.SoilType, top.Name, top.Suitability)
			} else {
				fmt.Fprintf(out, "%s: completed, %s soil\n", br.JobID, br.Result.Soil.SoilType)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return errors.New(userMessage(err))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not complete", failed, total)
	}
	return nil
}

// userMessage turns a poll error into the message shown to the farmer.
func userMessage(err error) string {
	var jfe *saralmitti.JobFailedError
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, saralmitti.ErrTimeout):
		return "analysis timed out, please try again later"
	case errors.As(err, &jfe):
		return "analysis failed: " + jfe.Message
	case errors.Is(err, saralmitti.ErrTransient):
		return "network error, please retry"
	default:
		return err.Error()
	}
}

// progressReporter prints one line per status query.
func progressReporter(w io.Writer) func(saralmitti.PollAttempt) {
	return func(a saralmitti.PollAttempt) {
		switch {
		case a.Outcome == saralmitti.OutcomeCompleted || a.Outcome == saralmitti.OutcomeFailed:
			return
		case a.Last():
			fmt.Fprintf(w, "[%s] attempt %d/%d: %s\n", a.JobID, a.Number, a.MaxAttempts, a.Outcome)
		default:
			fmt.Fprintf(w, "[%s] attempt %d/%d: %s, next check in %s\n",
				a.JobID, a.Number, a.MaxAttempts, a.Outcome, a.Delay)
		}
	}
}

// printResult writes a completed result in the format selected by flags.
func printResult(out io.Writer, r *saralmitti.AnalysisResult, flags pollFlags) error {
	switch {
	case flags.field != "":
		v, err := saralmitti.ResultField(r, flags.field)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, v)
		return err

	case flags.json:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	s := r.Soil
	fmt.Fprintf(out, "Job:            %s\n", r.ID)
	fmt.Fprintf(out, "Analysed at:    %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "Soil type:      %s\n", s.SoilType)
	fmt.Fprintf(out, "pH:             %.2f\n", s.PH)
	fmt.Fprintf(out, "Nitrogen:       %.2f%%\n", s.Nitrogen)
	fmt.Fprintf(out, "Phosphorus:     %.2f%%\n", s.Phosphorus)
	fmt.Fprintf(out, "Potassium:      %.2f%%\n", s.Potassium)
	fmt.Fprintf(out, "Organic matter: %.1f%%\n", s.OrganicMatter)
	fmt.Fprintf(out, "Moisture:       %.1f%%\n", s.Moisture)
	fmt.Fprintf(out, "Health score:   %.0f/100 (confidence %.0f%%)\n", s.HealthScore, s.Confidence)

	if len(r.Crops) > 0 {
		fmt.Fprintln(out, "Recommended crops:")
		for i, c := range r.Crops {
			fmt.Fprintf(out, "  %d. %s %s (%s)  suitability %.0f%%  yield %.1f q/ha  %d days  water: %s\n",
				i+1, c.Icon, c.Name, c.NameHindi, c.Suitability, c.ExpectedYield, c.GrowthPeriod, c.WaterNeeds)
		}
	}
	return nil
}

// openImage opens path and returns it with its size.
func openImage(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return f, info.Size(), nil
}
