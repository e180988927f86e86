package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/storyrag/internal/chunk"
	"github.com/Aman-CERP/storyrag/internal/config"
	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/llm"
	"github.com/Aman-CERP/storyrag/internal/records"
	"github.com/Aman-CERP/storyrag/internal/story"
	"github.com/Aman-CERP/storyrag/internal/ui"
)

// app holds the components a command needs. Everything is built from the
// loaded configuration; nothing reads globals after construction. The
// index fields stay nil until ensureIndex runs.
type app struct {
	cfg          *config.Config
	embedder     embed.Embedder
	adapter      *index.Adapter
	fingerprints *fingerprint.Store
	runner       *index.Runner
	renderer     ui.Renderer
}

// loadConfig loads the configuration for the --config-dir project.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	dir, err := filepath.Abs(opts.configDir)
	if err != nil {
		return nil, serrors.ConfigError("cannot resolve config directory", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeConfigInvalid, err.Error(), err).
			WithSuggestion("Check .storyrag.yaml or run 'storyrag config init --force'")
	}
	return cfg, nil
}

// embedOptions maps the embeddings section onto embedder options.
func embedOptions(cfg *config.Config) embed.Options {
	return embed.Options{
		Provider:  embed.ParseProvider(cfg.Embeddings.Provider),
		Model:     cfg.Embeddings.Model,
		Host:      cfg.Embeddings.OllamaHost,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey,
		BatchSize: cfg.Embeddings.BatchSize,
		CacheSize: cfg.Embeddings.CacheSize,
	}
}

// newApp loads the configuration and wires the indexing stack. renderer
// may be nil.
func newApp(ctx context.Context, opts *rootOptions, renderer ui.Renderer) (*app, error) {
	a, err := newConfigApp(opts, renderer)
	if err != nil {
		return nil, err
	}
	if _, err := a.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// newConfigApp loads the configuration only. The embedder and index are
// built by ensureIndex the first time something needs them.
func newConfigApp(opts *rootOptions, renderer ui.Renderer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, renderer: renderer}, nil
}

// ensureIndex builds the embedder, adapter and runner once.
func (a *app) ensureIndex(ctx context.Context) (*index.Runner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	cfg := a.cfg

	embedder, err := embed.NewEmbedder(ctx, embedOptions(cfg))
	if err != nil {
		return nil, err
	}

	chunker, err := chunk.New(chunk.Options{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	adapter := index.NewAdapter(cfg.Paths.IndexDir, embedder)
	fingerprints := fingerprint.New(cfg.Paths.FingerprintFile)
	runner, err := index.NewRunner(index.RunnerDependencies{
		Adapter:      adapter,
		Fingerprints: fingerprints,
		Chunker:      chunker,
		Renderer:     a.renderer,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, serrors.InternalError("failed to create index runner", err)
	}

	a.embedder = embedder
	a.adapter = adapter
	a.fingerprints = fingerprints
	a.runner = runner
	return runner, nil
}

func (a *app) Close() error {
	if a.embedder == nil {
		return nil
	}
	return a.embedder.Close()
}

// openRecords opens the story history database.
func (a *app) openRecords() (*records.Store, error) {
	return records.Open(a.cfg.Paths.Database)
}

// model returns the chat model client.
func (a *app) model() *llm.Client {
	return llm.New(llm.FromConfig(a.cfg.LLM))
}

// generator wires a story generator recording into rec.
func (a *app) generator(rec *records.Store) (*story.Generator, error) {
	deps := story.Dependencies{
		Model:      a.model(),
		Runner:     a.runner,
		OpenRunner: a.ensureIndex,
		DocsDir:    a.cfg.Paths.DocsDir,
		MemoryDir:  a.cfg.Paths.MemoryDir,
		K:          a.cfg.Retrieval.K,
	}
	// A nil *records.Store must not become a non-nil interface.
	if rec != nil {
		deps.Records = rec
	}
	g, err := story.NewGenerator(deps)
	if err != nil {
		return nil, serrors.InternalError("failed to create story generator", err)
	}
	return g, nil
}

// progressRenderer picks the TUI or plain renderer for the command output.
func progressRenderer(cmd *cobra.Command, noTUI bool, title string) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithTitle(title),
	))
}
