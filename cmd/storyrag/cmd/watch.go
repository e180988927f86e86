package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/output"
	"github.com/Aman-CERP/storyrag/internal/ui"
	"github.com/Aman-CERP/storyrag/internal/watcher"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		poll     bool
		interval time.Duration
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current as documents change",
		Long: `Index once, then watch the documents directory and index files as
they are added or changed. Deleted files are reported; run
'storyrag index prune' to forget them.

Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := output.New(cmd.OutOrStdout())

			a, err := newApp(ctx, opts, ui.NopRenderer{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			docsDir := a.cfg.Paths.DocsDir
			if err := os.MkdirAll(docsDir, 0o755); err != nil {
				return serrors.IOError("cannot create documents directory", err).WithDetail("path", docsDir)
			}

			res, err := a.runner.Run(ctx, index.RunnerConfig{DocsDir: docsDir})
			if err != nil {
				return err
			}
			if res.Handle != nil {
				_ = res.Handle.Close()
			}
			out.Successf("Index ready: %d new file(s), %d chunk(s) total", len(res.Loaded), res.Total)

			wopts := watcher.DefaultOptions()
			wopts.ForcePolling = poll
			if interval > 0 {
				wopts.PollInterval = interval
			}
			wopts.Debounce = a.cfg.Watch.Debounce
			if debounce > 0 {
				wopts.Debounce = debounce
			}

			w, err := watcher.New(docsDir, wopts)
			if err != nil {
				return err
			}
			out.Statusf("👀", "Watching %s (%s)", w.Root(), w.Mode())

			reindexer := watcher.NewReindexer(a.runner, docsDir, func(br watcher.BatchResult) {
				reportBatch(out, br)
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			g.Go(func() error { return reindexer.Consume(gctx, w.Events()) })
			g.Go(func() error {
				for err := range w.Errors() {
					out.Warningf("watch error: %v", err)
				}
				return nil
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				out.Newline()
				out.Dim("Stopped watching.")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&poll, "poll", false, "Poll instead of using filesystem notifications")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (default 5s)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before indexing a batch (default from config)")
	return cmd
}

func reportBatch(out *output.Writer, br watcher.BatchResult) {
	stamp := time.Now().Format("15:04:05")
	if len(br.Removed) > 0 {
		out.Warningf("%s removed: %s (run 'storyrag index prune')", stamp, strings.Join(br.Removed, ", "))
	}
	switch {
	case br.Err != nil:
		out.Errorf("%s indexing %s failed: %s", stamp, strings.Join(br.Changed, ", "), serrors.FormatForCLI(br.Err))
	case br.Result != nil:
		out.Successf("%s indexed %d file(s), +%d chunk(s), %d total",
			stamp, len(br.Result.Loaded), br.Result.Chunks, br.Result.Total)
	}
}
