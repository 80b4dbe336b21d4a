package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// MaxBackoff caps a single retry delay.
const MaxBackoff = 2 * time.Minute

// Backoff returns the delay after failed attempt n (0-indexed): base * 2^n.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	if attempt > 16 {
		return MaxBackoff
	}
	d := base << uint(attempt)
	if d > MaxBackoff || d <= 0 {
		return MaxBackoff
	}
	return d
}

// RetryingClient wraps a Provider with a pre-call delay, an optional shared
// rate limit, bounded retries of transient failures, and observability.
// It is safe for concurrent use; the limiter is shared by all callers.
type RetryingClient struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter
	log      *slog.Logger
	stats    *Stats
	metrics  *Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps p using the retry and timeout settings of cfg.
func NewRetrying(p Provider, cfg Config, opts Options) *RetryingClient {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	c := &RetryingClient{
		provider: p,
		cfg:      cfg,
		log:      log.With("provider", p.Name(), "model", cfg.Model),
		stats:    opts.Stats,
		metrics:  opts.Metrics,
		sleep:    sleepCtx,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c
}

// Provider returns the wrapped provider.
func (c *RetryingClient) Provider() Provider { return c.provider }

// Stats returns the latency tracker, which may be nil.
func (c *RetryingClient) Stats() *Stats { return c.stats }

// Generate waits the base delay, then calls the provider, retrying rate
// limits, timeouts and unavailability with exponential backoff. Other
// failures are returned immediately.
func (c *RetryingClient) Generate(ctx context.Context, prompt string) (*Response, error) {
	if err := c.sleep(ctx, c.cfg.BaseDelay); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(c.cfg.BaseDelay, attempt-1)
			var e *Error
			if errors.As(lastErr, &e) && e.RetryAfter > delay {
				delay = e.RetryAfter
			}
			c.log.Warn("retrying llm call",
				"attempt", attempt,
				"delay", delay,
				"reason", KindOf(lastErr).String(),
				"error", lastErr,
			)
			c.metrics.retried(c.provider.Name(), KindOf(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		resp, err := c.attempt(ctx, prompt)
		if err == nil {
			resp.Attempts = attempt + 1
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", c.provider.Name(), c.cfg.MaxRetries+1, lastErr)
}

func (c *RetryingClient) attempt(ctx context.Context, prompt string) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Generate(ctx, prompt)
	elapsed := time.Since(start)

	c.stats.Record(elapsed, err)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	c.metrics.observe(c.provider.Name(), elapsed, usage, err)

	if err != nil {
		c.log.Debug("llm call failed", "duration", elapsed, "error", err)
		return nil, err
	}
	resp.Duration = elapsed
	c.log.Debug("llm call",
		"duration", elapsed,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.FinishReason,
	)
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
