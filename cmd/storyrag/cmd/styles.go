package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/storyrag/internal/output"
	"github.com/Aman-CERP/storyrag/internal/story"
)

func newStylesCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "styles",
		Short: "List the story style presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			for _, name := range story.StyleNames() {
				icon := "•"
				if name == story.DefaultStyle {
					icon = "★"
				}
				out.Status(icon, name)
				if verbose {
					out.Quote(story.Styles[name], 0)
					out.Newline()
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show each system prompt")
	return cmd
}
