package agent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/wovenbot/loom/internal/observability"
	"github.com/wovenbot/loom/pkg/models"
)

// Fallback pairs a provider with the model configuration to use when the
// primary is exhausted.
type Fallback struct {
	Config ModelConfig
	Client Provider
}

// RetryConfig is the retry envelope for the primary provider.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the standard envelope: 3 retries, 500ms initial
// backoff, 8s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// httpStatusError is satisfied by provider errors that carry an HTTP status.
type httpStatusError interface {
	HTTPStatus() int
}

// RetryClient wraps a primary provider with retries and an ordered fallback
// chain. The primary is tried up to MaxRetries+1 times for retryable errors
// with exponential backoff and multiplicative jitter; each fallback is then
// tried exactly once. The first success wins; if everything fails the last
// error is surfaced.
type RetryClient struct {
	primary    Provider
	primaryCfg ModelConfig
	fallbacks  []Fallback
	retry      RetryConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewRetryClient wires a retrying client around the primary.
func NewRetryClient(primary Provider, primaryCfg ModelConfig, fallbacks []Fallback, retry RetryConfig, logger *slog.Logger, metrics *observability.Metrics) *RetryClient {
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 500 * time.Millisecond
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{
		primary:    primary,
		primaryCfg: primaryCfg,
		fallbacks:  fallbacks,
		retry:      retry,
		logger:     logger,
		metrics:    metrics,
	}
}

// ChatStream opens a stream against the primary, retrying retryable failures
// that occur before any delta is produced. Once deltas flow the stream is
// handed to the caller as-is; mid-stream errors are the loop's concern.
func (c *RetryClient) ChatStream(ctx context.Context, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.countRetry(c.primary.Name(), "retry")
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		ch, err := c.open(ctx, c.primary, c.primaryCfg, messages, tools)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		c.logger.Warn("model request failed, retrying",
			"provider", c.primary.Name(),
			"attempt", attempt+1,
			"error", err,
		)
	}

	for _, fb := range c.fallbacks {
		c.countRetry(fb.Client.Name(), "fallback")
		c.logger.Warn("switching to fallback provider",
			"provider", fb.Client.Name(),
			"model", fb.Config.Model,
			"error", lastErr,
		)
		ch, err := c.open(ctx, fb.Client, fb.Config, messages, tools)
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// open starts a stream and peeks its first delta so that streams which die
// before producing anything count as failed attempts.
func (c *RetryClient) open(ctx context.Context, client Provider, cfg ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	start := time.Now()
	ch, err := client.ChatStream(ctx, cfg, messages, tools)
	if err != nil {
		c.countRequest(client.Name(), cfg.Model, "error")
		return nil, err
	}

	select {
	case first, ok := <-ch:
		if !ok {
			c.countRequest(client.Name(), cfg.Model, "success")
			closed := make(chan models.StreamDelta)
			close(closed)
			return closed, nil
		}
		if first.Err != nil {
			c.countRequest(client.Name(), cfg.Model, "error")
			return nil, first.Err
		}
		c.countRequest(client.Name(), cfg.Model, "success")
		if c.metrics != nil {
			c.metrics.LLMRequestDuration.WithLabelValues(client.Name(), cfg.Model).Observe(time.Since(start).Seconds())
		}

		// Sends select on ctx so a cancelled run that stops receiving does
		// not strand this forwarder.
		out := make(chan models.StreamDelta)
		go func() {
			defer close(out)
			select {
			case out <- first:
			case <-ctx.Done():
				return
			}
			for delta := range ch {
				select {
				case out <- delta:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RetryClient) sleep(ctx context.Context, attempt int) error {
	backoff := c.retry.InitialBackoff << (attempt - 1)
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}
	jitter := 0.8 + rand.Float64()*0.4
	backoff = time.Duration(float64(backoff) * jitter)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RetryClient) countRequest(provider, model, status string) {
	if c.metrics != nil {
		c.metrics.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	}
}

func (c *RetryClient) countRetry(provider, kind string) {
	if c.metrics != nil {
		c.metrics.LLMRetryCounter.WithLabelValues(provider, kind).Inc()
	}
}

// IsRetryable classifies an error as transient. Status codes 429, 500, 502,
// and 503 are retryable, as are errors whose message indicates a transport
// problem. The substring checks are deliberately loose; providers wrap their
// errors inconsistently.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		// A zero status means no HTTP response was seen; classify by
		// message instead.
		if status := statusErr.HTTPStatus(); status != 0 {
			switch status {
			case 429, 500, 502, 503:
				return true
			default:
				return false
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "connection", "stream error", "transport"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
