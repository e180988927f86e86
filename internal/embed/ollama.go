package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// OllamaConfig configures the Ollama embedder. Zero fields take defaults.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 probes the server
	BatchSize  int
	Timeout    time.Duration // per request
	MaxRetries int

	// SkipHealthCheck skips the model lookup and dimension probe.
	SkipHealthCheck bool
}

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "all-minilm"

	ollamaConnectTimeout = 5 * time.Second
	ollamaPoolSize       = 4
)

// DefaultOllamaConfig returns the local Ollama defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:       DefaultOllamaHost,
		Model:      DefaultOllamaModel,
		BatchSize:  DefaultBatchSize,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// Wire types for /api/embed and /api/tags.
type (
	ollamaEmbedRequest struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}
	ollamaEmbedResponse struct {
		Model      string      `json:"model"`
		Embeddings [][]float64 `json:"embeddings"`
	}
	ollamaTags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu       sync.RWMutex
	closed   bool
	progress func(completed, total int)
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder. Unless SkipHealthCheck is
// set it resolves the configured model against the installed ones and probes
// the embedding dimension. There is no fallback model: a missing model is
// an error.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	// No client-wide timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
		defer cancel()

		modelName, err := e.findModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.modelName = modelName

		if e.dims == 0 {
			probeCtx, cancelProbe := context.WithTimeout(ctx, cfg.Timeout)
			defer cancelProbe()
			vecs, err := e.doEmbed(probeCtx, []string{"dimension detection"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, err
			}
			if len(vecs) == 0 || len(vecs[0]) == 0 {
				transport.CloseIdleConnections()
				return nil, serrors.New(serrors.ErrCodeBadServerResponse, "ollama returned an empty embedding", nil)
			}
			e.dims = len(vecs[0])
		}
	}

	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, serrors.InternalError("failed to create request", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.connError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, serrors.New(serrors.ErrCodeBadServerResponse, "failed to decode ollama model list", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// findModel matches the configured model against installed ones, with or
// without a tag.
func (e *OllamaEmbedder) findModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	var baseMatch string
	for _, installed := range models {
		name := strings.ToLower(installed)
		if name == want {
			return installed, nil
		}
		if baseMatch == "" && strings.Split(name, ":")[0] == wantBase {
			baseMatch = installed
		}
	}
	if baseMatch != "" {
		return baseMatch, nil
	}

	return "", serrors.New(serrors.ErrCodeModelNotFound,
		fmt.Sprintf("embedding model %q is not installed on %s", e.config.Model, e.config.Host), nil).
		WithDetail("model", e.config.Model).
		WithSuggestion(fmt.Sprintf("Run: ollama pull %s", e.config.Model))
}

// Embed generates embedding for a single text. Blank text yields a zero vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings using Ollama's batch API
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed, progress := e.closed, e.progress
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, i)
		}
	}

	for _, w := range batches(len(pending), e.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := pending[w[0]:w[1]]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vecs, err := e.doEmbedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, serrors.New(serrors.ErrCodeBadServerResponse,
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vecs), len(batch)), nil)
		}
		for j, i := range idx {
			results[i] = vecs[j]
		}

		if progress != nil {
			progress(w[1], len(pending))
		}
	}

	return results, nil
}

func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := serrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  serrors.IsRetryable,
	}

	attempt := 0
	return serrors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(reqCtx, texts)
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, serrors.InternalError("failed to marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, serrors.InternalError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.connError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var apiResult ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, serrors.New(serrors.ErrCodeBadServerResponse, "failed to decode ollama embeddings", err)
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		embeddings[i] = normalizeVector(v)
	}
	return embeddings, nil
}

func (e *OllamaEmbedder) connError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return serrors.New(serrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("ollama at %s timed out", e.config.Host), err)
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return serrors.NetworkError(fmt.Sprintf("cannot reach ollama at %s", e.config.Host), err).
		WithSuggestion("Start Ollama with: ollama serve")
}

// statusError maps a non-200 response. 5xx responses are retryable.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := serrors.New(serrors.ErrCodeBadServerResponse,
		fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil).
		WithDetail("status", fmt.Sprint(resp.StatusCode))
	if resp.StatusCode >= 500 {
		err.Retryable = true
	}
	return err
}

func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available checks if Ollama is running and the model is installed
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	_, err := e.findModel(ctx)
	return err == nil
}

// SetProgressFunc sets the progress callback for batch embedding.
func (e *OllamaEmbedder) SetProgressFunc(fn func(completed, total int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
