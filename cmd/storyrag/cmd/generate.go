package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/output"
	"github.com/Aman-CERP/storyrag/internal/records"
	"github.com/Aman-CERP/storyrag/internal/story"
	"github.com/Aman-CERP/storyrag/internal/ui"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		mode         string
		docs         []string
		style        string
		systemPrompt string
		remember     bool
		noRecord     bool
		k            int
		outFile      string
		jsonOut      bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Write a story from a prompt",
		Long: `Generate a story with the configured model server.

In direct mode the prompt goes to the model as is. In RAG mode the selected
documents are indexed if they changed, the closest excerpts are retrieved,
and the model is asked to ground the story on them.

Pass "-" as the prompt to read it from stdin. With --remember the story is
saved to the memory directory and indexed, so later RAG runs can draw on it.`,
		Example: `  storyrag generate "A lighthouse keeper finds a map"
  storyrag generate --mode rag --docs legends.pdf --docs notes.txt "The storm returns"
  echo "A quiet harbor" | storyrag generate --style "One Piece Writer" -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			a, err := newConfigApp(opts, ui.NopRenderer{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if style == "" {
				style = a.cfg.Generation.DefaultStyle
			}
			req := story.Request{
				Prompt:       prompt,
				Style:        style,
				SystemPrompt: systemPrompt,
				Mode:         mode,
				Documents:    docs,
				Remember:     remember,
				K:            k,
			}
			// Reject bad requests before any server is contacted.
			if _, err := req.Validate(); err != nil {
				return err
			}

			var rec *records.Store
			if !noRecord {
				if rec, err = a.openRecords(); err != nil {
					return err
				}
				defer func() { _ = rec.Close() }()
			}

			gen, err := a.generator(rec)
			if err != nil {
				return err
			}

			res, err := gen.Generate(ctx, req)
			if err != nil {
				return err
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(res.Story+"\n"), 0o644); err != nil {
					return serrors.IOError("failed to write story", err).WithDetail("path", outFile)
				}
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printStory(output.New(cmd.OutOrStdout()), res, outFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(story.ModeDirect), "Generation mode: direct or rag")
	cmd.Flags().StringSliceVarP(&docs, "docs", "d", nil, "Documents to ground on, relative to the documents directory (rag mode)")
	cmd.Flags().StringVarP(&style, "style", "s", "", "Style preset (see 'storyrag styles')")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Custom system prompt, overrides --style")
	cmd.Flags().BoolVar(&remember, "remember", false, "Save the story to memory and index it")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "Do not add the story to the history database")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Excerpts to retrieve in rag mode (default from config)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Also write the story to this file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// readPrompt takes the prompt from args, or from r when it is "-" or absent
// and r is not a terminal.
func readPrompt(r io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	if len(args) == 0 {
		if f, ok := r.(*os.File); ok && ui.IsTTY(f) {
			return "", serrors.New(serrors.ErrCodePromptEmpty, "prompt is empty", nil).
				WithSuggestion(`Pass the prompt as an argument, or "-" to read stdin`)
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", serrors.IOError("failed to read prompt", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printStory(out *output.Writer, res *story.Result, outFile string) {
	out.Heading(fmt.Sprintf("%s · %s", res.Mode.Label(), res.Style))
	out.Println(res.Story)
	out.Newline()

	if len(res.Sources) > 0 {
		out.Dim("Sources: " + strings.Join(res.Sources, ", "))
	}
	if res.ID > 0 {
		out.Dim(fmt.Sprintf("Saved as story %d", res.ID))
	}
	if res.MemoryPath != "" {
		out.Dim("Remembered in " + res.MemoryPath)
	}
	if outFile != "" {
		out.Dim("Written to " + outFile)
	}
}
