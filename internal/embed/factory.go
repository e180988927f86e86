package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server (default)
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses any OpenAI-compatible /v1/embeddings endpoint
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings with no external service
	ProviderStatic ProviderType = "static"
)

// Options selects and configures an embedder.
type Options struct {
	Provider  ProviderType
	Model     string
	Host      string // Ollama host
	BaseURL   string // OpenAI-compatible base URL
	APIKey    string
	BatchSize int
	// CacheSize bounds the LRU wrapped around the embedder; 0 disables it.
	CacheSize int
	Timeout   time.Duration
}

// NewEmbedder creates the embedder for opts. An explicitly selected
// provider that is unreachable is an error; there is no silent fallback to
// another provider, since that would corrupt an index built with a
// different model.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch opts.Provider {
	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		embedder, err = NewOllamaEmbedder(ctx, cfg)

	case ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(ctx, OpenAIConfig{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
			MaxRetries: DefaultMaxRetries,
		})

	case ProviderStatic:
		embedder = NewStaticEmbedder()

	default:
		return nil, serrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", opts.Provider), nil).
			WithSuggestion("Use one of: " + strings.Join(ValidProviders(), ", "))
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(opts.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType. Unknown names are
// returned unchanged so that NewEmbedder can reject them.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama", "":
		return ProviderOllama
	case "openai", "llama", "llama.cpp":
		return ProviderOpenAI
	case "static":
		return ProviderStatic
	default:
		return ProviderType(s)
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderOllama),
		string(ProviderOpenAI),
		string(ProviderStatic),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, looking through the cache.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Unwrap()
	}
	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	default:
		info.Provider = ProviderStatic
	}
	return info
}
