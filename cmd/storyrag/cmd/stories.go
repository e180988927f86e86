package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/storyrag/internal/config"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/output"
	"github.com/Aman-CERP/storyrag/internal/records"
)

func newStoriesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stories",
		Aliases: []string{"history"},
		Short:   "Browse and export generated stories",
	}
	cmd.AddCommand(
		newStoriesListCmd(opts),
		newStoriesSearchCmd(opts),
		newStoriesShowCmd(opts),
		newStoriesExportCmd(opts),
		newStoriesExportOneCmd(opts),
		newStoriesStatsCmd(opts),
	)
	return cmd
}

// withRecords opens the history database for the duration of fn.
func withRecords(opts *rootOptions, fn func(cfg *config.Config, st *records.Store) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := records.Open(cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(cfg, st)
}

func newStoriesListCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		offset  int
		style   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRecords(opts, func(_ *config.Config, st *records.Store) error {
				var (
					list []*records.Story
					err  error
				)
				if style != "" {
					list, err = st.StoriesByStyle(cmd.Context(), style, limit, offset)
				} else {
					list, err = st.ListStories(cmd.Context(), limit, offset)
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				printStoryTable(output.New(cmd.OutOrStdout()), list)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum stories to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Stories to skip")
	cmd.Flags().StringVar(&style, "style", "", "Only stories in this style")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newStoriesSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		ranked  bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find stories whose prompt or text contains the words",
		Long: `Search the story history.

By default this is a substring match on prompt and story text, newest
first. With --ranked the full-text archive is brought up to date and
results are ordered by relevance instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			return withRecords(opts, func(cfg *config.Config, st *records.Store) error {
				out := output.New(cmd.OutOrStdout())
				if !ranked {
					list, err := st.SearchStories(cmd.Context(), q, limit, 0)
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(cmd.OutOrStdout(), list)
					}
					printStoryTable(out, list)
					return nil
				}

				arc, err := records.OpenArchive(cfg.Paths.ArchiveDir)
				if err != nil {
					return err
				}
				defer func() { _ = arc.Close() }()
				if _, err := arc.Sync(cmd.Context(), st); err != nil {
					return err
				}
				hits, err := arc.Search(cmd.Context(), st, q, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), hits)
				}
				if len(hits) == 0 {
					out.Warning("No matching stories")
					return nil
				}
				for _, h := range hits {
					out.Statusf(fmt.Sprintf("#%d", h.Story.ID), "%.2f  %s  %s",
						h.Score, h.Story.CreatedAt.Local().Format("2006-01-02 15:04"), oneLine(h.Story.Prompt, 60))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum stories to show")
	cmd.Flags().BoolVar(&ranked, "ranked", false, "Rank by relevance using the full-text archive")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newStoriesShowCmd(opts *rootOptions) *cobra.Command {
	var (
		analytics bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			return withRecords(opts, func(_ *config.Config, st *records.Store) error {
				an, err := st.StoryAnalytics(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					if analytics {
						return writeJSON(cmd.OutOrStdout(), an)
					}
					return writeJSON(cmd.OutOrStdout(), an.Story)
				}

				out := output.New(cmd.OutOrStdout())
				s := an.Story
				out.Heading(fmt.Sprintf("Story %d", s.ID))
				out.KeyValues([][2]string{
					{"Created", s.CreatedAt.Local().Format("2006-01-02 15:04:05")},
					{"Mode", s.Mode},
					{"Style", s.Style},
					{"Prompt", s.Prompt},
					{"Remembered", strconv.FormatBool(s.MemoryAdded)},
				})
				out.Newline()
				out.Println(s.Response)
				if analytics {
					out.Newline()
					out.Heading("Analytics")
					docs := make([]string, len(an.Documents))
					for i, d := range an.Documents {
						docs[i] = d.Filename
					}
					out.KeyValues([][2]string{
						{"Characters", itoa(an.Length)},
						{"Words", itoa(an.WordCount)},
						{"Paragraphs", itoa(an.ParagraphCount)},
						{"Documents", strings.Join(docs, ", ")},
					})
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&analytics, "analytics", false, "Include length, word and paragraph counts")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newStoriesExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format  string
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every story as JSON or CSV",
		Long: `Export the whole history. The default destination is the configured
export file (exported_qa.json); use --out - to write to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRecords(opts, func(cfg *config.Config, st *records.Store) error {
				dest := outFile
				if dest == "" {
					dest = cfg.Paths.ExportFile
					if strings.ToLower(format) == "csv" {
						dest = strings.TrimSuffix(dest, filepath.Ext(dest)) + ".csv"
					}
				}
				return writeExport(cmd.OutOrStdout(), dest, func(w io.Writer) error {
					return st.ExportAll(cmd.Context(), w, format)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format: json or csv")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Destination file, or - for stdout")
	return cmd
}

func newStoriesExportOneCmd(opts *rootOptions) *cobra.Command {
	var (
		format  string
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "export-one <id>",
		Short: "Export a single story as JSON, TXT or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			return withRecords(opts, func(_ *config.Config, st *records.Store) error {
				s, err := st.GetStory(cmd.Context(), id)
				if err != nil {
					return err
				}
				dest := outFile
				if dest == "" {
					dest = records.ExportFileName(id, format)
				}
				return writeExport(cmd.OutOrStdout(), dest, func(w io.Writer) error {
					return records.ExportStory(w, s, format)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format: json, txt or csv")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Destination file, or - for stdout (default story_<id>.<format>)")
	return cmd
}

// writeExport renders into dest, or stdout when dest is "-". A failed
// render leaves no partial file behind.
func writeExport(stdout io.Writer, dest string, render func(io.Writer) error) error {
	if dest == "-" {
		return render(stdout)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".export-*")
	if err != nil {
		return serrors.IOError("failed to create export file", err).WithDetail("path", dest)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := render(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return serrors.IOError("failed to write export file", err).WithDetail("path", dest)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return serrors.IOError("failed to write export file", err).WithDetail("path", dest)
	}
	output.New(stdout).Successf("Exported to %s", dest)
	return nil
}

func newStoriesStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		enhanced bool
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the story history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRecords(opts, func(_ *config.Config, st *records.Store) error {
				out := output.New(cmd.OutOrStdout())
				if !enhanced {
					stats, err := st.Statistics(cmd.Context())
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(cmd.OutOrStdout(), stats)
					}
					printStatistics(out, stats)
					return nil
				}

				stats, err := st.EnhancedStatistics(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				printStatistics(out, &stats.Statistics)
				out.Newline()
				out.Heading("By mode")
				out.KeyValues(countRows(stats.StoriesByMode))
				out.Newline()
				out.KeyValues([][2]string{
					{"In memory", itoa(stats.StoriesInMemory)},
					{"Avg length", itoa(stats.AvgResponseLength) + " chars"},
				})
				if len(stats.TopDocuments) > 0 {
					out.Newline()
					out.Heading("Most used documents")
					rows := make([][2]string, len(stats.TopDocuments))
					for i, d := range stats.TopDocuments {
						rows[i] = [2]string{d.Filename, itoa(d.Count)}
					}
					out.KeyValues(rows)
				}
				if len(stats.StoriesPerDay) > 0 {
					out.Newline()
					out.Heading("Per day")
					rows := make([][2]string, len(stats.StoriesPerDay))
					for i, d := range stats.StoriesPerDay {
						rows[i] = [2]string{d.Date, itoa(d.Count)}
					}
					out.KeyValues(rows)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "Include mode, memory, per-day and document breakdowns")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printStatistics(out *output.Writer, s *records.Statistics) {
	out.Heading("Stories")
	out.KeyValues([][2]string{
		{"Total", itoa(s.TotalStories)},
		{"Documents used", itoa(s.TotalDocuments)},
	})
	if len(s.StoriesByStyle) > 0 {
		out.Newline()
		out.Heading("By style")
		out.KeyValues(countRows(s.StoriesByStyle))
	}
}

// countRows sorts a count map by count, then key.
func countRows(m map[string]int) [][2]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	rows := make([][2]string, len(keys))
	for i, k := range keys {
		rows[i] = [2]string{k, itoa(m[k])}
	}
	return rows
}

func printStoryTable(out *output.Writer, list []*records.Story) {
	if len(list) == 0 {
		out.Warning("No stories yet")
		return
	}
	for _, s := range list {
		out.Statusf(fmt.Sprintf("#%d", s.ID), "%s  %-20s  %s",
			s.CreatedAt.Local().Format("2006-01-02 15:04"), oneLine(s.Style, 20), oneLine(s.Prompt, 60))
	}
}

func parseStoryID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, serrors.New(serrors.ErrCodeInvalidInput, fmt.Sprintf("invalid story id %q", s), err)
	}
	return id, nil
}
