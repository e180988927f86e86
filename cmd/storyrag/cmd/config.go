package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/storyrag/configs"
	"github.com/Aman-CERP/storyrag/internal/config"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/output"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage project and user configuration.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/storyrag/config.yaml)
  3. Project config (.storyrag.yaml)
  4. .env in the project directory
  5. Environment variables (LLAMA_SERVER_URL, LLAMA_MODEL, STORYRAG_*)`,
		Example: `  storyrag config init
  storyrag config init --user
  storyrag config show --json
  storyrag config path`,
	}

	cmd.AddCommand(newConfigInitCmd(opts), newConfigShowCmd(opts), newConfigPathCmd(opts))
	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write .storyrag.yaml in the project directory, or the user config
with --user. An existing file is kept unless --force is given, in which
case it is backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, template := filepath.Join(opts.configDir, config.ProjectFileNames[0]), configs.ProjectConfigTemplate
			if user {
				path, template = config.GetUserConfigPath(), configs.UserConfigTemplate
			}
			return runConfigInit(cmd, path, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file after backing it up")
	cmd.Flags().BoolVar(&user, "user", false, "Create the user config instead of the project config")
	return cmd
}

func runConfigInit(cmd *cobra.Command, path, template string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !force {
		out.Warning("Configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Newline()
		out.Status("💡", "Use --force to replace it (a backup is kept)")
		return nil
	}
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return serrors.New(serrors.ErrCodeConfigPermission, "cannot access configuration", statErr).WithDetail("path", path)
	}

	var backup string
	if exists {
		var err error
		if backup, err = config.BackupFile(path); err != nil {
			return serrors.IOError("failed to back up configuration", err).WithDetail("path", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return serrors.New(serrors.ErrCodeConfigPermission, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return serrors.New(serrors.ErrCodeConfigPermission, "failed to write configuration", err).WithDetail("path", path)
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	if backup != "" {
		out.Statusf("💾", "Backup: %s", backup)
	}
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Point llm.base_url and llm.model at your model server")
	out.Status("", "  2. Put documents in the docs directory")
	out.Status("", "  3. Run 'storyrag doctor' to verify")
	return nil
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging every source. API keys are
never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}

			redacted := *cfg
			redacted.LLM.APIKey = redact(cfg.LLM.APIKey)
			redacted.Embeddings.APIKey = redact(cfg.Embeddings.APIKey)
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return serrors.InternalError("failed to encode configuration", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			project, _ := filepath.Abs(filepath.Join(opts.configDir, config.ProjectFileNames[0]))
			out.KeyValues([][2]string{
				{"User", config.GetUserConfigPath()},
				{"Project", project},
			})
			return nil
		},
	}
}

func redact(key string) string {
	if key == "" || key == "not-needed" {
		return key
	}
	return "********"
}
