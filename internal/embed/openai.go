package embed

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// OpenAIConfig configures an embedder against any OpenAI-compatible
// /v1/embeddings endpoint (llama.cpp server, vLLM, OpenAI itself).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // 0 = probe on construction
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// HTTPClient overrides the transport (for testing)
	HTTPClient *http.Client
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig
	dims   int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the embedder and, when Dimensions is unset,
// embeds a probe text to learn the dimension.
func NewOpenAIEmbedder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, serrors.ConfigError("embeddings.model is required for the openai provider", nil)
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

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	e := &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
		dims:   cfg.Dimensions,
	}

	if e.dims == 0 {
		vecs, err := e.embedOnce(ctx, []string{"dimension detection"})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			return nil, serrors.New(serrors.ErrCodeBadServerResponse, "embeddings endpoint returned an empty vector", nil)
		}
		e.dims = len(vecs[0])
	}
	return e, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in batches. Blank texts get zero vectors without a
// request, since most servers reject empty input.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, i)
		}
	}

	retry := serrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  serrors.IsRetryable,
	}

	for _, w := range batches(len(pending), e.config.BatchSize) {
		idx := pending[w[0]:w[1]]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vecs, err := serrors.RetryWithResult(ctx, retry, func() ([][]float32, error) {
			return e.embedOnce(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, serrors.New(serrors.ErrCodeBadServerResponse,
				fmt.Sprintf("embeddings endpoint returned %d vectors for %d inputs", len(vecs), len(batch)), nil)
		}
		for j, i := range idx {
			results[i] = vecs[j]
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.config.Model),
		Input: texts,
	})
	if err != nil {
		return nil, classifyOpenAIError(e.config.BaseURL, e.config.Model, err)
	}

	// Responses may arrive out of order; Index is authoritative.
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, serrors.New(serrors.ErrCodeBadServerResponse,
				fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		out[d.Index] = normalizeVector(v)
	}
	return out, nil
}

// classifyOpenAIError maps client errors onto storyrag codes: transport
// failures and 5xx are retryable, 404 means the model is missing.
func classifyOpenAIError(baseURL, model string, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return serrors.New(serrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("embeddings endpoint %s timed out", baseURL), err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case stderrors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case stderrors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		return serrors.NetworkError(fmt.Sprintf("cannot reach embeddings endpoint %s", baseURL), err)
	case status == http.StatusNotFound:
		return serrors.New(serrors.ErrCodeModelNotFound,
			fmt.Sprintf("embedding model %q not found at %s", model, baseURL), err).
			WithDetail("model", model)
	default:
		se := serrors.New(serrors.ErrCodeBadServerResponse,
			fmt.Sprintf("embeddings endpoint returned status %d", status), err).
			WithDetail("status", fmt.Sprint(status))
		se.Retryable = status >= 500 || status == http.StatusTooManyRequests
		return se
	}
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available lists models as a cheap reachability check.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
