// Package llm talks to the OpenAI-compatible model server (llama.cpp, vLLM,
// Ollama's /v1) that writes the stories.
package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aman-CERP/storyrag/internal/config"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// Defaults mirror config.NewConfig.
const (
	DefaultTimeout      = 300 * time.Second
	DefaultProbeTimeout = 5 * time.Second
	DefaultMaxRetries   = 5
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Model        string
	APIKey       string
	Temperature  float32
	MaxTokens    int
	TopP         float32
	Timeout      time.Duration
	ProbeTimeout time.Duration
	MaxRetries   int

	// RetryDelay is the first backoff delay; zero means one second.
	RetryDelay time.Duration

	// HTTPClient overrides the transport (for testing)
	HTTPClient *http.Client
}

// FromConfig converts the llm section of the application config.
func FromConfig(c config.LLMConfig) Config {
	return Config{
		BaseURL:      c.BaseURL,
		Model:        c.Model,
		APIKey:       c.APIKey,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		TopP:         c.TopP,
		Timeout:      c.Timeout,
		ProbeTimeout: c.ProbeTimeout,
		MaxRetries:   c.MaxRetries,
	}
}

// Client generates completions and checks that the server serves the
// configured model. A Client is safe for concurrent use.
type Client struct {
	client  *openai.Client
	cfg     Config
	breaker *serrors.CircuitBreaker
	logger  *slog.Logger
}

// New creates a client. It does not contact the server.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		breaker: serrors.NewCircuitBreaker("model server "+cfg.BaseURL, serrors.WithMaxFailures(3), serrors.WithResetTimeout(30*time.Second)),
		logger:  slog.Default(),
	}
}

// Model returns the configured model id.
func (c *Client) Model() string {
	return c.cfg.Model
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Probe lists the server's models and checks the configured one is among
// them. It is never retried. The returned slice holds every model id seen.
func (c *Client) Probe(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, c.classify("probe", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	for _, id := range ids {
		if id == c.cfg.Model {
			c.logger.Debug("llm_probe_ok", slog.String("base_url", c.cfg.BaseURL), slog.Any("models", ids))
			return ids, nil
		}
	}

	return ids, serrors.New(serrors.ErrCodeModelNotFound,
		fmt.Sprintf("model %s not found on %s; available models: [%s]", c.cfg.Model, c.cfg.BaseURL, strings.Join(ids, ", ")), nil).
		WithDetail("base_url", c.cfg.BaseURL).
		WithDetail("model", c.cfg.Model).
		WithSuggestion("Set LLAMA_MODEL to one of the available models, or load the model on the server")
}

// Generate sends a system and a user message and returns the reply text.
// Retryable failures are retried with backoff; repeated failures open a
// circuit so later calls fail fast until the server recovers.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	retry := serrors.RetryConfig{
		MaxRetries:   c.cfg.MaxRetries,
		InitialDelay: c.cfg.RetryDelay,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  serrors.IsRetryable,
	}

	var text string
	attempts := 0
	err := c.breaker.Execute(func() error {
		var err error
		text, err = serrors.RetryWithResult(ctx, retry, func() (string, error) {
			attempts++
			return c.complete(ctx, system, user)
		})
		return err
	}, isServerFailure)
	if err != nil {
		c.logger.Warn("llm_generate_failed",
			append(serrors.LogAttrs(err), slog.Int("attempts", attempts))...)
		return "", err
	}

	c.logger.Info("llm_generate_completed",
		slog.String("model", c.cfg.Model),
		slog.Int("attempts", attempts),
		slog.Int("chars", len(text)),
		slog.Duration("duration", time.Since(start)))
	return text, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		return "", c.classify("chat", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", serrors.New(serrors.ErrCodeGenerationEmpty, "model server returned an empty completion", nil).
			WithDetail("model", c.cfg.Model)
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto storyrag codes.
func (c *Client) classify(op string, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return serrors.New(serrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("model server %s timed out (%s)", c.cfg.BaseURL, op), err).
			WithDetail("model", c.cfg.Model)
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
		return serrors.NetworkError(
			fmt.Sprintf("failed to connect to model server %s (model %s)", c.cfg.BaseURL, c.cfg.Model), err).
			WithDetail("base_url", c.cfg.BaseURL).
			WithSuggestion("Start the server, or set LLAMA_SERVER_URL to where it listens")
	case op == "probe":
		// Any answer other than a model list means the server is not usable.
		return serrors.NetworkError(
			fmt.Sprintf("model server %s returned status %d while checking for model %s", c.cfg.BaseURL, status, c.cfg.Model), err).
			WithDetail("base_url", c.cfg.BaseURL)
	case status == http.StatusNotFound:
		return serrors.New(serrors.ErrCodeModelNotFound,
			fmt.Sprintf("model %s not found on %s", c.cfg.Model, c.cfg.BaseURL), err)
	default:
		e := serrors.New(serrors.ErrCodeBadServerResponse,
			fmt.Sprintf("model server %s returned status %d", c.cfg.BaseURL, status), err).
			WithDetail("model", c.cfg.Model)
		e.Retryable = status >= 500 || status == http.StatusTooManyRequests
		return e
	}
}

// isServerFailure decides which errors count against the circuit breaker.
func isServerFailure(err error) bool {
	switch serrors.GetCode(err) {
	case serrors.ErrCodeNetworkTimeout, serrors.ErrCodeNetworkUnavailable:
		return true
	case serrors.ErrCodeBadServerResponse:
		return serrors.IsRetryable(err)
	}
	return false
}
