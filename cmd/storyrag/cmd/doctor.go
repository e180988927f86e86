package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/storyrag/internal/embed"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/llm"
	"github.com/Aman-CERP/storyrag/internal/logging"
	"github.com/Aman-CERP/storyrag/internal/preflight"
	"github.com/Aman-CERP/storyrag/pkg/version"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var (
		verbose bool
		jsonOut bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and the services storyrag depends on",
		Long: `Run diagnostics for the current project.

Checks:
  - Disk space (100MB minimum) and write access in the project directory
  - File descriptor limit (1024 minimum)
  - The chat model server and its model
  - The embedder
  - The index and the story database

Checks run concurrently; each network check is bounded by --timeout.`,
		Example: `  storyrag doctor
  storyrag doctor --verbose
  storyrag doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDoctor(ctx, cmd, opts, verbose, jsonOut, timeout)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for each network check")
	return cmd
}

type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(ctx context.Context, cmd *cobra.Command, opts *rootOptions, verbose, jsonOut bool, timeout time.Duration) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	projectDir, _ := filepath.Abs(opts.configDir)

	targets := preflight.Targets{
		ProjectDir:  projectDir,
		Model:       llm.New(llm.FromConfig(cfg.LLM)),
		Index:       index.NewAdapter(cfg.Paths.IndexDir, nil),
		RecordsPath: cfg.Paths.Database,
	}
	// An unreachable embedder is a finding, not a reason to stop.
	targets.Embedder, targets.EmbedderErr = embed.NewEmbedder(ctx, embedOptions(cfg))
	if targets.Embedder != nil {
		defer func() { _ = targets.Embedder.Close() }()
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithTimeout(timeout),
	)
	results := checker.RunAll(ctx, targets)

	if jsonOut {
		if err := writeJSON(cmd.OutOrStdout(), doctorReport{Status: checker.SummaryStatus(results), Checks: results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	stateDir := filepath.Dir(logging.DefaultLogDir())
	if checker.HasCriticalFailures(results) {
		_ = preflight.ClearMarker(stateDir)
		return &doctorError{message: "system check failed"}
	}

	if prev, ok := preflight.LastPass(stateDir); ok && !jsonOut {
		cmd.Printf("\nPrevious successful check: %s ago (storyrag %s)\n", prev.Age().Round(time.Second), prev.Version)
	}
	_ = preflight.MarkPassed(stateDir, version.Short(), len(results))
	return nil
}

// doctorError is returned when a required check fails; the report already
// explains why.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return fmt.Sprintf("doctor: %s", e.message)
}
