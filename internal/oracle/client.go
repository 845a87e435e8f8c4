// Package oracle is the boundary to the external reasoning oracle: it builds
// bounded prompts, enforces the concurrency ceiling, retries transient
// failures and validates every response against a strict per-mode schema.
package oracle

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/observability"
	"regwatch-ai/backend/pkg/models"
)

// Request is one unit of oracle work.
type Request struct {
	Mode     models.Mode
	Document *models.Document
	Profile  *models.OrganizationProfile
}

// Verdict is a schema-validated oracle answer. Only the fields of the
// requested mode are set.
type Verdict struct {
	Mode       models.Mode
	Relevant   bool
	Reason     string
	Regulators []string
	Questions  []models.Question
	Tasks      []models.Task
}

// Caller is the interface the orchestrator depends on.
type Caller interface {
	Call(ctx context.Context, req Request) (Verdict, error)
}

// Client implements Caller on top of a Completer.
type Client struct {
	completer Completer
	cfg       config.OracleConfig
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	metrics   *observability.Metrics
	logger    *logging.Logger
}

var _ Caller = (*Client)(nil)

// NewClient creates a Client. Zero limits in cfg fall back to the defaults.
func NewClient(completer Completer, cfg config.OracleConfig, metrics *observability.Metrics, logger *logging.Logger) *Client {
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = DefaultMaxTextChars
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c := &Client{
		completer: completer,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		metrics:   metrics,
		logger:    logger.With("component", "oracle"),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrent)
	}
	return c
}

// Call runs one oracle request. Callers beyond the concurrency ceiling wait
// for a slot. Timeouts and rate limiting are retried with exponential backoff;
// other failures are returned immediately.
func (c *Client) Call(ctx context.Context, req Request) (Verdict, error) {
	prompt, err := BuildPrompt(req, c.cfg.MaxTextChars)
	if err != nil {
		return Verdict{}, err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		err = classify(ctx, err)
		c.record(ctx, req.Mode, err)
		return Verdict{}, err
	}
	defer c.sem.Release(1)

	var verdict Verdict
	attempts := 0
	op := func() error {
		attempts++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(classify(ctx, err))
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		raw, err := c.completer.Complete(callCtx, prompt)
		if err != nil {
			err = classify(callCtx, err)
			if apperrors.Retryable(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}

		v, err := Parse(req.Mode, raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		verdict = v
		return nil
	}

	err = backoff.RetryNotify(op, c.backOff(ctx), func(err error, wait time.Duration) {
		c.logger.Warn("oracle call failed, retrying", "mode", req.Mode, "attempt", attempts, "wait", wait, "error", err)
	})
	if err != nil {
		err = classify(ctx, err)
		c.record(ctx, req.Mode, err)
		c.logger.Warn("oracle call failed", "mode", req.Mode, "attempts", attempts, "error", err)
		return Verdict{}, err
	}

	c.record(ctx, req.Mode, nil)
	return verdict, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval
	b.MaxInterval = 10 * c.cfg.RetryInitialInterval
	b.MaxElapsedTime = 0
	var retries uint64
	if c.cfg.MaxRetries > 0 {
		retries = uint64(c.cfg.MaxRetries)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

func (c *Client) record(ctx context.Context, mode models.Mode, err error) {
	outcome := "ok"
	if kind, ok := apperrors.KindOf(err); ok {
		outcome = string(kind)
	} else if err != nil {
		outcome = "error"
	}
	c.metrics.OracleCall(context.WithoutCancel(ctx), string(mode), outcome)
}

// classify maps transport and context failures onto the oracle taxonomy.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var oe *apperrors.OracleError
	if errors.As(err, &oe) {
		return oe
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Oracle(apperrors.OracleTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.Oracle(apperrors.OracleTimeout, err)
	case errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Oracle(apperrors.OracleTimeout, err)
	default:
		return apperrors.Oracle(apperrors.OracleUnavailable, err)
	}
}
