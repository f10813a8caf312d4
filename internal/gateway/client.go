package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"strings"
	"time"
)

const (
	defaultBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryMult      = 2.0
)

// Schema describes the JSON shape the model must return, in the backend's
// response-schema format. Stages build these alongside their prompts.
type Schema map[string]any

// Params are the per-call generation knobs.
type Params struct {
	Temperature float64
	SafetyLevel string
}

// safetyThresholds maps the user-facing safety level to the backend's
// blocking threshold, applied uniformly to all harm categories.
var safetyThresholds = map[string]string{
	"none":   "BLOCK_NONE",
	"low":    "BLOCK_ONLY_HIGH",
	"medium": "BLOCK_MEDIUM_AND_ABOVE",
	"high":   "BLOCK_LOW_AND_ABOVE",
}

var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// Config holds the settings required to reach the generative backend.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client is the rate-limited, retrying gateway in front of the generative
// model. All jobs share one Client and therefore one token bucket.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *TokenBucket
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	retryMultiplier  float64
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryMaxAttempts overrides the total attempt count (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryMaxAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the backoff schedule.
func WithRetryBackoff(base, maxDelay time.Duration, multiplier float64) Option {
	return func(c *Client) {
		c.retryBaseDelay = base
		c.retryMaxDelay = maxDelay
		if multiplier > 0 {
			c.retryMultiplier = multiplier
		}
	}
}

// WithSleeper overrides how retry waits are performed (useful in tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a gateway client sharing the supplied token bucket.
func NewClient(cfg Config, limiter *TokenBucket, logger *slog.Logger, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	c := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          limiter,
		logger:           logger,
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		retryMultiplier:  defaultRetryMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateStructured asks the model for output conforming to schema and
// decodes it into out. Every attempt first takes a rate-limit token. All
// failure kinds (validation, empty content, transport) are retried up to the
// attempt limit, then the last error is returned unchanged.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, schema Schema, out any, params Params) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("gateway: prompt required")
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("gateway: api key required")
	}

	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		raw, err := c.generateOnce(ctx, prompt, schema, params)
		if err == nil {
			if decodeErr := decodeModelJSON(raw, out); decodeErr != nil {
				err = &ValidationError{Err: decodeErr, Raw: summarizeSnippet(raw)}
			} else {
				return nil
			}
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.backoffDelay(attempt)
		c.logger.Warn("generation attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
	SafetySettings   []safetySetting   `json:"safetySettings,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   Schema  `json:"responseSchema,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// generateOnce performs a single backend call and returns the raw JSON text
// produced by the model.
func (c *Client) generateOnce(ctx context.Context, prompt string, schema Schema, params Params) (string, error) {
	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      params.Temperature,
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
		SafetySettings: buildSafetySettings(params.SafetyLevel),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", &GatewayError{Err: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", &GatewayError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GatewayError{Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &GatewayError{StatusCode: resp.StatusCode, Err: errors.New(summarizeSnippet(string(body)))}
	}

	var envelope generateResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", &GatewayError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if envelope.Error != nil {
		return "", &GatewayError{StatusCode: envelope.Error.Code, Err: errors.New(envelope.Error.Message)}
	}
	if len(envelope.Candidates) == 0 {
		blockReason := ""
		if envelope.PromptFeedback != nil {
			blockReason = envelope.PromptFeedback.BlockReason
		}
		return "", &EmptyResponseError{BlockReason: blockReason}
	}

	candidate := envelope.Candidates[0]
	text := ""
	for _, p := range candidate.Content.Parts {
		text += p.Text
	}
	if strings.TrimSpace(text) == "" {
		return "", &EmptyResponseError{FinishReason: candidate.FinishReason}
	}
	return text, nil
}

func buildSafetySettings(level string) []safetySetting {
	threshold, ok := safetyThresholds[level]
	if !ok {
		threshold = safetyThresholds["none"]
	}
	settings := make([]safetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		settings = append(settings, safetySetting{Category: category, Threshold: threshold})
	}
	return settings
}

// backoffDelay computes min(maxDelay, base * multiplier^(attempt-1)).
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := time.Duration(float64(c.retryBaseDelay) * math.Pow(c.retryMultiplier, float64(attempt-1)))
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		delay = c.retryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decodeModelJSON decodes the model's JSON output, tolerating code fences
// and leading prose around the JSON object. On failure out is untouched, so
// a retried attempt never inherits fields from a rejected payload.
func decodeModelJSON(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := decodeInto(trimmed, out)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return directErr
	}
	return decodeInto(sanitized, out)
}

// decodeInto unmarshals into a fresh value and copies it to out only when
// the whole payload decoded, never leaving out partially populated.
func decodeInto(payload string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("decode target must be a non-nil pointer")
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(payload), fresh.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

func sanitizeJSONPayload(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(strings.TrimLeft(s, " \t\r\n"), "json")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" || s[0] == '{' || s[0] == '[' {
		return s
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

func summarizeSnippet(s string) string {
	clean := strings.Join(strings.Fields(s), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
