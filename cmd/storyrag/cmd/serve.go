package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/mcp"
	"github.com/Aman-CERP/storyrag/internal/records"
	"github.com/Aman-CERP/storyrag/internal/ui"
	"github.com/Aman-CERP/storyrag/pkg/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve documents and story generation over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools: search_documents, generate_story, list_stories, index_status.
Every document under the documents directory is also exposed as a
doc:/// resource. Logs go to the log file only, since stdout carries
the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, ui.NopRenderer{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			deps := mcp.Dependencies{
				Adapter: a.adapter,
				DocsDir: a.cfg.Paths.DocsDir,
				K:       a.cfg.Retrieval.K,
				Version: version.Short(),
			}

			// Without the history database the server still searches and
			// generates; stories just are not recorded or listable.
			rec, err := records.Open(a.cfg.Paths.Database)
			if err != nil {
				slog.Warn("records_unavailable", serrors.LogAttrs(err)...)
				rec = nil
			} else {
				defer func() { _ = rec.Close() }()
				deps.Stories = rec
			}

			gen, err := a.generator(rec)
			if err != nil {
				return err
			}
			deps.Generator = gen

			srv, err := mcp.NewServer(deps)
			if err != nil {
				return serrors.InternalError("failed to create MCP server", err)
			}
			n, err := srv.RegisterResources(ctx)
			if err != nil {
				slog.Warn("resources_unavailable", serrors.LogAttrs(err)...)
			} else {
				slog.Info("resources_registered", slog.Int("count", n))
			}
			return srv.Serve(ctx)
		},
	}
}
