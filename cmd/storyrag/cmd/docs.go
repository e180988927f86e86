package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/loader"
	"github.com/Aman-CERP/storyrag/internal/output"
)

// Document states reported by 'storyrag docs'.
const (
	docIndexed = "indexed"
	docChanged = "changed"
	docNew     = "new"
)

type docEntry struct {
	Path  string `json:"path"`
	State string `json:"state"`
}

func newDocsCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List documents and whether they are indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			entries, err := documentStates(cfg.Paths.DocsDir, fingerprint.New(cfg.Paths.FingerprintFile))
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			out := output.New(cmd.OutOrStdout())
			if len(entries) == 0 {
				out.Warningf("No .txt, .pdf or .docx files in %s", cfg.Paths.DocsDir)
				return nil
			}
			out.Heading("Documents in " + cfg.Paths.DocsDir)
			pending := 0
			for _, e := range entries {
				icon := "✓"
				if e.State != docIndexed {
					icon = "•"
					pending++
				}
				out.Statusf(icon, "%-8s %s", e.State, e.Path)
			}
			out.Newline()
			if pending > 0 {
				out.Dim("Run 'storyrag index' to index new and changed documents.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// documentStates compares each document's content hash with its fingerprint.
func documentStates(docsDir string, fps *fingerprint.Store) ([]docEntry, error) {
	rels, err := loader.ListDocuments(docsDir)
	if err != nil {
		return nil, err
	}
	known, err := fps.Load()
	if err != nil {
		return nil, err
	}

	entries := make([]docEntry, 0, len(rels))
	for _, rel := range rels {
		state := docNew
		if prev, ok := known[rel]; ok {
			hash, err := fingerprint.HashFile(filepath.Join(docsDir, filepath.FromSlash(rel)))
			if err != nil {
				return nil, err
			}
			state = docChanged
			if hash == prev {
				state = docIndexed
			}
		}
		entries = append(entries, docEntry{Path: rel, State: state})
	}
	return entries, nil
}
