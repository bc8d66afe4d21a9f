// Package oracle sends the per-FC evidence prompt to the inference backend
// and turns the reply into a risk verdict.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/fcsentinel/internal/engine"
	"github.com/kalambet/fcsentinel/internal/evidence"
	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/risk"
	"github.com/kalambet/fcsentinel/internal/storage"
)

var (
	ErrUnavailable = errors.New("risk oracle unavailable")
	ErrTimeout     = errors.New("risk oracle timed out")
	ErrEmptyReply  = errors.New("risk oracle returned an empty reply")
)

const (
	MinTimeout     = 10 * time.Second
	MaxTimeout     = 30 * time.Second
	DefaultTimeout = 20 * time.Second
)

// ClampTimeout bounds d to [MinTimeout, MaxTimeout]; zero means DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return min(max(d, MinTimeout), MaxTimeout)
}

type Options struct {
	Model   string
	Timeout time.Duration
	// RequestsPerMinute paces calls across all workers. 0 disables pacing.
	RequestsPerMinute int
}

// Client makes exactly one oracle call per FC evaluation.
type Client struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
}

func New(e engine.Engine, opts Options, metrics *observability.Metrics) *Client {
	c := &Client{
		engine:  e,
		model:   opts.Model,
		timeout: ClampTimeout(opts.Timeout),
		metrics: metrics,
		logger:  slog.Default(),
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

// Predict sends the rendered prompt and returns the raw reply. There is no
// retry: a failure is reported as ErrUnavailable, ErrTimeout or
// ErrEmptyReply, wrapped with the cause.
func (c *Client) Predict(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: waiting for rate limiter: %v", ErrUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	reply, err := c.engine.Chat(ctx, c.model, []engine.Message{{Role: "user", Content: prompt}})
	c.metrics.OracleDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && strings.TrimSpace(reply) == "":
		c.metrics.OracleRequests.WithLabelValues("error").Inc()
		return "", ErrEmptyReply
	case err == nil:
		c.metrics.OracleRequests.WithLabelValues("success").Inc()
		return reply, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		c.metrics.OracleRequests.WithLabelValues("timeout").Inc()
		return "", fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	default:
		c.metrics.OracleRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// Assessment is the outcome of one oracle evaluation.
type Assessment struct {
	Verdict risk.Verdict
	Prompt  string
	Raw     string
	// Err is the oracle failure, if any. Verdict is the default verdict then.
	Err error
}

// Assess builds the prompt, calls the oracle and parses the reply. It never
// fails: oracle errors yield risk.Default with the failure as reasoning.
func (c *Client) Assess(ctx context.Context, fc storage.FulfillmentCenter, b evidence.Bundle) Assessment {
	prompt := BuildPrompt(fc, b)
	raw, err := c.Predict(ctx, prompt)
	if err != nil {
		c.logger.Warn("risk oracle failed, using default verdict", "fc_id", fc.ID, "error", err)
		c.metrics.OracleFallbacks.Inc()
		return Assessment{
			Verdict: risk.Default(err.Error()),
			Prompt:  prompt,
			Err:     err,
		}
	}

	v := risk.Parse(raw)
	for _, f := range v.Defaults {
		c.metrics.ParserDefaults.WithLabelValues(f).Inc()
	}
	if len(v.Defaults) > 0 {
		c.logger.Debug("oracle reply had unparsable fields", "fc_id", fc.ID, "fields", v.Defaults)
	}
	return Assessment{Verdict: v, Prompt: prompt, Raw: raw}
}
