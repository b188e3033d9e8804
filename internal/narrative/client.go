package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-medplan/pkg/circuitbreaker"
)

var (
	// ErrUnavailable covers transport errors, 5xx replies and an open breaker.
	ErrUnavailable = errors.New("narrative service unavailable")
	// ErrRejected is a 4xx reply. It does not trip the breaker.
	ErrRejected = errors.New("narrative service rejected request")
	// ErrEmptyReply is a 2xx reply with no content.
	ErrEmptyReply = errors.New("narrative service returned no content")
)

// ClientConfig configures the chat-completions client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Client calls an OpenAI-compatible /chat/completions endpoint through a
// circuit breaker.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewClient builds a client. The breaker reports state changes to observer,
// which may be nil.
func NewClient(cfg ClientConfig, observer circuitbreaker.StateObserver, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("narrative base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	bcfg := circuitbreaker.DefaultConfig("narrative")
	bcfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrRejected)
	}
	breaker, err := circuitbreaker.New(bcfg, observer, logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		tracer:  otel.Tracer("narrative-client"),
		logger:  logger,
	}, nil
}

// Analyze validates req, sends the analysis prompt and returns the reply.
func (c *Client) Analyze(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return c.Complete(ctx, BuildPrompt(req))
}

// CheckInteractions asks for interactions between the named drugs.
func (c *Client) CheckInteractions(ctx context.Context, medications []string) (string, error) {
	prompt, err := BuildInteractionPrompt(medications)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, prompt)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one user prompt and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "narrative_complete",
		trace.WithAttributes(
			attribute.String("model", c.cfg.Model),
			attribute.Int("prompt_size", len(prompt)),
		))
	defer span.End()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	out, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", err
	}
	return out.(string), nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	c.logger.Debug("narrative service replied",
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
