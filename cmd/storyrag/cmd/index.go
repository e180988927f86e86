package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/loader"
	"github.com/Aman-CERP/storyrag/internal/output"
	"github.com/Aman-CERP/storyrag/internal/ui"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		noTUI   bool
		backend string
	)

	cmd := &cobra.Command{
		Use:   "index [document...]",
		Short: "Index new and changed documents",
		Long: `Index the documents directory for retrieval.

Only files whose content changed since the last run are loaded, chunked
and embedded; everything else is skipped. Pass document paths (relative
to the documents directory) to restrict the run to them.

Changing the embedding provider or model requires deleting the index
directory and the fingerprint file first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if backend != "" {
				if err := os.Setenv("STORYRAG_EMBEDDER", backend); err != nil {
					return serrors.ConfigError("cannot select embedder", err)
				}
			}
			return runIndex(ctx, cmd, opts, args, noTUI)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding provider: ollama, openai or static")

	cmd.AddCommand(newIndexPruneCmd(opts), newIndexInfoCmd(opts))
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts *rootOptions, selection []string, noTUI bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if len(selection) > 0 {
		found, missing, err := loader.ResolveSelection(cfg.Paths.DocsDir, selection)
		if err != nil {
			return err
		}
		for _, m := range missing {
			out.Warningf("Not a document under %s: %s", cfg.Paths.DocsDir, m)
		}
		if len(found) == 0 {
			return serrors.New(serrors.ErrCodeNoDocumentsAvailable, "none of the selected documents exist", nil).
				WithSuggestion("Run 'storyrag docs' to list available documents")
		}
		selection = found
	}

	a, err := newApp(ctx, opts, progressRenderer(cmd, noTUI, cfg.Paths.DocsDir))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.runner.Run(ctx, index.RunnerConfig{DocsDir: a.cfg.Paths.DocsDir, Selection: selection})
	if err != nil {
		return err
	}
	if res.Handle == nil {
		out.Warningf("No documents with text found in %s", a.cfg.Paths.DocsDir)
		return nil
	}
	return res.Handle.Close()
}

func newIndexPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Forget fingerprints of deleted documents",
		Long: `Remove fingerprint entries for documents that no longer exist.

Chunks already embedded from those documents stay in the index until it
is rebuilt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			a, err := newApp(cmd.Context(), opts, ui.NopRenderer{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			removed, err := a.runner.Prune(cmd.Context(), a.cfg.Paths.DocsDir)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				out.Success("Nothing to prune")
				return nil
			}
			for _, rel := range removed {
				out.Status("-", rel)
			}
			out.Successf("Pruned %d fingerprint(s)", len(removed))
			return nil
		},
	}
}

func newIndexInfoCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the state of the index on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// Status reads metadata only, so no embedder is needed.
			st, err := index.NewAdapter(cfg.Paths.IndexDir, nil).Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			out := output.New(cmd.OutOrStdout())
			out.Heading("Index")
			if !st.Exists {
				out.KeyValues([][2]string{{"Directory", st.Dir}, {"Status", "not built"}})
				out.Newline()
				out.Dim("Run 'storyrag index' to build it.")
				return nil
			}
			out.KeyValues([][2]string{
				{"Directory", st.Dir},
				{"Chunks", itoa(st.Chunks)},
				{"Documents", itoa(st.Sources)},
				{"Model", st.Model},
				{"Dimensions", itoa(st.Dimensions)},
				{"Size", formatBytes(st.SizeBytes)},
				{"Updated", st.ModifiedAt.Local().Format("2006-01-02 15:04:05")},
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
