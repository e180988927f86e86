// Package config loads storyrag configuration.
//
// Values are layered in order of increasing precedence:
//  1. built-in defaults (NewConfig)
//  2. user config ($XDG_CONFIG_HOME/storyrag/config.yaml)
//  3. project config (.storyrag.yaml or .storyrag.yml in the working directory)
//  4. .env in the working directory (never overrides variables already set)
//  5. environment variables (LLAMA_* and STORYRAG_*)
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/storyrag/internal/embed"
)

// Config is the complete storyrag configuration.
// Every component receives the part it needs at construction time.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig holds every on-disk location. Relative paths are resolved
// against the directory passed to Load.
type PathsConfig struct {
	DocsDir         string `yaml:"docs_dir" json:"docs_dir"`
	MemoryDir       string `yaml:"memory_dir" json:"memory_dir"`
	IndexDir        string `yaml:"index_dir" json:"index_dir"`
	FingerprintFile string `yaml:"fingerprint_file" json:"fingerprint_file"`
	Database        string `yaml:"database" json:"database"`
	ArchiveDir      string `yaml:"archive_dir" json:"archive_dir"`
	ExportFile      string `yaml:"export_file" json:"export_file"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

type RetrievalConfig struct {
	K int `yaml:"k" json:"k"`
}

// EmbeddingsConfig selects the embedder used for both indexing and queries.
// Changing provider or model requires rebuilding the index.
type EmbeddingsConfig struct {
	// Provider is "ollama", "openai" or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// BaseURL is the OpenAI-compatible endpoint for the openai provider.
	BaseURL   string `yaml:"base_url" json:"base_url"`
	APIKey    string `yaml:"api_key" json:"-"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize bounds the query embedding LRU; 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig describes the OpenAI-compatible model server.
type LLMConfig struct {
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	Model        string        `yaml:"model" json:"model"`
	APIKey       string        `yaml:"api_key" json:"-"`
	Temperature  float32       `yaml:"temperature" json:"temperature"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens"`
	TopP         float32       `yaml:"top_p" json:"top_p"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
}

type GenerationConfig struct {
	DefaultStyle string `yaml:"default_style" json:"default_style"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DocsDir:         "docs",
			MemoryDir:       filepath.Join("docs", "memory_stories"),
			IndexDir:        "vector_index",
			FingerprintFile: "hash_index.json",
			Database:        "story_generator.db",
			ArchiveDir:      "story_archive.bleve",
			ExportFile:      "exported_qa.json",
		},
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 50,
		},
		Retrieval: RetrievalConfig{K: 3},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "all-minilm",
			OllamaHost: "http://localhost:11434",
			BaseURL:    "http://localhost:8000/v1",
			APIKey:     "not-needed",
			BatchSize:  32,
			CacheSize:  256,
		},
		LLM: LLMConfig{
			BaseURL:      "http://localhost:8000/v1",
			Model:        "Qwen3-30B",
			APIKey:       "not-needed",
			Temperature:  0.9,
			MaxTokens:    1500,
			TopP:         0.95,
			Timeout:      300 * time.Second,
			ProbeTimeout: 5 * time.Second,
			MaxRetries:   5,
		},
		Generation: GenerationConfig{DefaultStyle: "Creative Storyteller"},
		Watch:      WatchConfig{Debounce: 500 * time.Millisecond},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// ProjectFileNames are checked in order; the first one found is used.
var ProjectFileNames = []string{".storyrag.yaml", ".storyrag.yml"}

// GetUserConfigDir returns $XDG_CONFIG_HOME/storyrag or ~/.config/storyrag.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storyrag")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "storyrag")
	}
	return filepath.Join(home, ".config", "storyrag")
}

// GetUserConfigPath returns the user config file path.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// Load builds the effective configuration for dir and resolves relative
// paths against it.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.mergeFile(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	for _, name := range ProjectFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			if err := cfg.mergeFile(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Resolve(dir)
	return cfg, nil
}

// mergeFile decodes a YAML file over the current values. Keys absent from
// the file keep their current value; unknown keys are rejected. A missing
// file is not an error.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("LLAMA_SERVER_URL", &c.LLM.BaseURL)
	setString("LLAMA_MODEL", &c.LLM.Model)
	setString("LLAMA_API_KEY", &c.LLM.APIKey)

	setString("STORYRAG_DOCS_DIR", &c.Paths.DocsDir)
	setString("STORYRAG_MEMORY_DIR", &c.Paths.MemoryDir)
	setString("STORYRAG_INDEX_DIR", &c.Paths.IndexDir)
	setString("STORYRAG_DB_PATH", &c.Paths.Database)
	setString("STORYRAG_EMBEDDER", &c.Embeddings.Provider)
	setString("STORYRAG_EMBED_MODEL", &c.Embeddings.Model)
	setString("STORYRAG_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	setString("STORYRAG_LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("STORYRAG_RETRIEVAL_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.K = k
		}
	}
}

// Resolve makes every relative path absolute with respect to dir.
func (c *Config) Resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Paths.DocsDir = abs(c.Paths.DocsDir)
	c.Paths.MemoryDir = abs(c.Paths.MemoryDir)
	c.Paths.IndexDir = abs(c.Paths.IndexDir)
	c.Paths.FingerprintFile = abs(c.Paths.FingerprintFile)
	c.Paths.Database = abs(c.Paths.Database)
	c.Paths.ArchiveDir = abs(c.Paths.ArchiveDir)
	c.Paths.ExportFile = abs(c.Paths.ExportFile)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}

	if !embed.IsValidProvider(c.Embeddings.Provider) {
		return fmt.Errorf("embeddings.provider must be one of %s, got %q",
			strings.Join(embed.ValidProviders(), ", "), c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return errors.New("llm.base_url and llm.model are required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %.2f", c.LLM.Temperature)
	}
	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p must be in (0, 1], got %.2f", c.LLM.TopP)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Timeout <= 0 || c.LLM.ProbeTimeout <= 0 {
		return errors.New("llm.timeout and llm.probe_timeout must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be non-negative, got %d", c.LLM.MaxRetries)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
