// Package cmd provides the CLI commands for storyrag.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/logging"
	"github.com/Aman-CERP/storyrag/pkg/version"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	debug     bool
	configDir string

	loggingCleanup func()
}

// NewRootCmd creates the root command for the storyrag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "storyrag",
		Short: "Story generation grounded on your documents",
		Long: `storyrag writes stories with a local OpenAI-compatible model server.

Stories can be generated directly from a prompt, or grounded on excerpts
retrieved from an incrementally maintained index of your .txt, .pdf and
.docx documents. Every story is kept in a local history.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.startLogging(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			opts.stopLogging()
			return nil
		},
	}
	cmd.SetVersionTemplate("storyrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Mirror debug logs to stderr")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "Project directory holding .storyrag.yaml and .env")

	cmd.AddCommand(
		newIndexCmd(opts),
		newQueryCmd(opts),
		newGenerateCmd(opts),
		newDocsCmd(opts),
		newStoriesCmd(opts),
		newStylesCmd(),
		newWatchCmd(opts),
		newServeCmd(opts),
		newDoctorCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
		newLogsCmd(),
	)
	return cmd
}

// startLogging sends logs to the rotating file. The serve command never
// writes logs to stderr, since its stdio carries the protocol.
func (o *rootOptions) startLogging(cmd *cobra.Command) error {
	cfg := logging.DefaultConfig()
	switch {
	case cmd.Name() == "serve":
		cfg = logging.ServeConfig(cfg.Level)
		if o.debug {
			cfg.Level = "debug"
		}
	case o.debug:
		cfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// A read-only home must not stop the command.
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
		return nil
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started", slog.String("command", cmd.CommandPath()), slog.String("version", version.Short()))
	return nil
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

// Execute runs the root command and prints any error.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), serrors.FormatForCLI(err))
		slog.Error("command_failed", serrors.LogAttrs(err)...)
	}
	return err
}
