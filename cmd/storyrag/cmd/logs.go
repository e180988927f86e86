package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View storyrag logs",
		Long: `Show the last lines of the storyrag log (~/.storyrag/logs/storyrag.log).
Use -f to follow new entries as they are written.`,
		Example: `  storyrag logs
  storyrag logs -n 200 --level warn
  storyrag logs -f --filter generation`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := logging.FindLogFile(logFile)
			if err != nil {
				return serrors.New(serrors.ErrCodeFileNotFound, "no log file found", err).
					WithSuggestion("Run any storyrag command first, or pass --file")
			}

			var pattern *regexp.Regexp
			if filter != "" {
				if pattern, err = regexp.Compile(filter); err != nil {
					return serrors.New(serrors.ErrCodeInvalidInput, "invalid filter pattern", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:   level,
				Pattern: pattern,
				NoColor: noColor,
			}, cmd.OutOrStdout())

			stderr := cmd.ErrOrStderr()
			_, _ = fmt.Fprintf(stderr, "Log file: %s\n---\n", path)

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return serrors.IOError("failed to read log file", err)
			}
			viewer.Print(entries)
			if !follow {
				return nil
			}

			_, _ = fmt.Fprintln(stderr, "--- following (Ctrl+C to stop)")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch := make(chan logging.LogEntry, 64)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer close(ch)
				return viewer.Follow(gctx, path, ch)
			})
			g.Go(func() error {
				for e := range ch {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(e))
				}
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Only lines matching this regex")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&logFile, "file", "", "Log file path (default ~/.storyrag/logs/storyrag.log)")
	return cmd
}
