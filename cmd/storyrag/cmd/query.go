package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/storyrag/internal/document"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/output"
	"github.com/Aman-CERP/storyrag/internal/retrieval"
	"github.com/Aman-CERP/storyrag/internal/ui"
)

// queryResult is the --json shape of a query.
type queryResult struct {
	Question string          `json:"question"`
	Hits     []retrieval.Hit `json:"hits"`
	Sources  []string        `json:"sources"`
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		k       int
		jsonOut bool
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve the excerpts closest to a question",
		Long: `Search the index for the chunks most similar to the question and
print them with the document each came from.

Use --refresh to index new and changed documents first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")

			a, err := newApp(ctx, opts, ui.NopRenderer{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var h *index.Handle
			if refresh {
				res, err := a.runner.Run(ctx, index.RunnerConfig{DocsDir: a.cfg.Paths.DocsDir})
				if err != nil {
					return err
				}
				h = res.Handle
			}
			if h == nil {
				if h, err = a.adapter.Load(ctx); err != nil {
					return err
				}
			}
			defer func() { _ = h.Close() }()

			if k <= 0 {
				k = a.cfg.Retrieval.K
			}
			hits, err := retrieval.Search(ctx, h, question, k)
			if err != nil {
				return err
			}
			chunks := retrieval.Chunks(hits)

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), queryResult{
					Question: question,
					Hits:     hits,
					Sources:  document.Sources(chunks),
				})
			}

			out := output.New(cmd.OutOrStdout())
			if len(hits) == 0 {
				out.Warning("No matching excerpts")
				return nil
			}
			out.Heading(fmt.Sprintf("Top %d excerpts", len(hits)))
			for i, hit := range hits {
				label := hit.Chunk.Source
				if hit.Chunk.Page > 0 {
					label = fmt.Sprintf("%s (page %d)", label, hit.Chunk.Page)
				}
				out.Statusf(fmt.Sprintf("[%d]", i+1), "%s  score %.3f", label, hit.Score)
				out.Quote(hit.Chunk.Text, 400)
				out.Newline()
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of excerpts (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Index new and changed documents first")
	return cmd
}
