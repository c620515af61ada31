// Package recommender asks a hosted chat-completion model (Groq, through its
// OpenAI-compatible API) for anime recommendations and validates the reply.
package recommender

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"animerec/internal/apperr"
	"animerec/internal/config"
	"animerec/internal/domain"
	"animerec/internal/logging"
	"animerec/internal/metrics"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// NoSpacing as a RequestInterval turns request spacing off.
const NoSpacing time.Duration = -1

// Config configures the client. Zero durations fall back to the defaults of
// the hosted service (20s timeout, 1.2s spacing, 1.5s base and 10s max backoff).
type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	RequestInterval time.Duration
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// ConfigFrom builds a Config from the settings file and the resolved API key.
// An explicit request_interval_ms of 0 disables spacing.
func ConfigFrom(llm config.LLMConfig, apiKey string) Config {
	interval := time.Duration(llm.RequestIntervalMs) * time.Millisecond
	if interval == 0 {
		interval = NoSpacing
	}
	return Config{
		APIKey:          apiKey,
		Model:           config.GroqModel(llm.Model),
		BaseURL:         llm.BaseURL,
		Timeout:         time.Duration(llm.TimeoutSecs) * time.Second,
		RequestInterval: interval,
		MaxAttempts:     llm.MaxAttempts,
		BaseDelay:       time.Duration(llm.BaseDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(llm.MaxDelayMs) * time.Millisecond,
	}
}

// Client is safe for concurrent use. All calls share one rate limiter, so
// requests leave the process at most once per RequestInterval.
type Client struct {
	api        *openai.Client
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(context.Context, time.Duration) error
	jitter     func() time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the transport. Its Timeout is left as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the sleep used for request spacing and backoff.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces the clock the request spacing is measured against.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithJitter replaces the random component added to every backoff.
func WithJitter(fn func() time.Duration) Option {
	return func(c *Client) { c.jitter = fn }
}

// New validates cfg and builds the client. It performs no network calls.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("recommender: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultGroqModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RequestInterval == 0 {
		cfg.RequestInterval = 1200 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		sleep:  sleepContext,
		now:    time.Now,
		jitter: func() time.Duration { return time.Duration(rand.Int64N(int64(time.Second))) },
		log:    logging.Component("recommender").With().Str("model", cfg.Model).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(apiCfg)
	return c, nil
}

// Model returns the effective chat model.
func (c *Client) Model() string { return c.cfg.Model }

// GetRecommendations returns up to MaxRecommendations entries in model order.
// Network errors, 429 and 5xx replies are retried with exponential backoff;
// rejected requests and invalid replies fail at once.
func (c *Client) GetRecommendations(ctx context.Context, query string) ([]domain.Recommendation, error) {
	start := time.Now()
	normalized := NormalizeQuery(query)
	req := BuildRequest(c.cfg.Model, normalized)
	fail := func(outcome, msg string, err error) ([]domain.Recommendation, error) {
		metrics.RecordRecommendation(outcome, time.Since(start))
		return nil, apperr.New(apperr.KindRecommendation, msg, err).
			With("query", normalized).With("model", c.cfg.Model)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return fail("cancelled", "request cancelled", err)
		}
		metrics.RecommendationAttempts.Inc()
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			reason, retry := classify(ctx, err)
			if !retry {
				return fail("rejected", "request failed", err)
			}
			lastErr = err
			if attempt == c.cfg.MaxAttempts {
				break
			}
			metrics.RecommendationRetries.WithLabelValues(reason).Inc()
			delay := c.retryDelay(attempt) + c.jitter()
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("attempt failed, retrying")
			if err := c.sleep(ctx, delay); err != nil {
				return fail("cancelled", "request cancelled", err)
			}
			continue
		}

		if len(resp.Choices) == 0 {
			return fail("invalid_response", "invalid response format", errors.New("reply has no choices"))
		}
		recs, err := ParseRecommendations(resp.Choices[0].Message.Content)
		if err != nil {
			c.log.Error().Err(err).Str("query", normalized).Msg("response validation failed")
			return fail("invalid_response", "invalid response format", err)
		}
		c.log.Info().Int("count", len(recs)).Str("query", normalized).Int("attempt", attempt).Msg("recommendations processed")
		metrics.RecordRecommendation("ok", time.Since(start))
		return recs, nil
	}
	return fail("exhausted", "service unavailable after retries", lastErr)
}

// CheckConnection sends a minimal one-shot request and reports whether the
// provider accepted it.
func (c *Client) CheckConnection(ctx context.Context) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "test"}},
		MaxTokens: 10,
	})
	if err != nil {
		return apperr.New(apperr.KindRecommendation, "connection check failed", err).
			With("model", c.cfg.Model).With("base_url", c.cfg.BaseURL)
	}
	return nil
}

// pace reserves the next request slot and sleeps until it opens.
func (c *Client) pace(ctx context.Context) error {
	now := c.now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("request spacing: reservation refused")
	}
	if d := r.DelayFrom(now); d > 0 {
		c.log.Debug().Dur("wait", d).Msg("spacing request")
		if err := c.sleep(ctx, d); err != nil {
			r.CancelAt(c.now())
			return err
		}
	}
	return nil
}

// retryDelay is BaseDelay doubled per attempt, capped at MaxDelay. attempt starts at 1.
func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < attempt && d < c.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxDelay)
}

// classify reports whether err is transient and why.
func classify(ctx context.Context, err error) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return "network", true
	}
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited", true
	case status >= 500:
		return "server", true
	case status == 0:
		return "network", true
	default:
		return "", false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
