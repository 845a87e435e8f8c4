// Package dispatch delivers finished artifacts downstream with at-least-once
// semantics and a per-key idempotency ledger.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/observability"
	"regwatch-ai/backend/pkg/models"
)

// ErrRunDeadline is recorded for artifacts that reach dispatch after the
// run's deadline.
var ErrRunDeadline = errors.New("run deadline exceeded")

// Outcome is the result of dispatching one artifact. A suppressed duplicate
// names the artifact that holds the key and that artifact's status.
type Outcome struct {
	Key                string                `json:"idempotency_key"`
	ArtifactID         string                `json:"artifact_id"`
	Status             models.DeliveryStatus `json:"status"`
	Attempts           int                   `json:"attempts"`
	Duplicate          bool                  `json:"duplicate,omitempty"`
	ExistingArtifactID string                `json:"existing_artifact_id,omitempty"`
	ExistingStatus     models.DeliveryStatus `json:"existing_status,omitempty"`
	Error              string                `json:"error,omitempty"`
}

// Succeeded reports whether the artifact needs no further delivery.
func (o Outcome) Succeeded() bool {
	return o.Status == models.DeliveryDelivered || o.Status == models.DeliverySkipped
}

// Delivered reports whether the content reached its sink, either through
// this dispatch or through the earlier one it duplicates.
func (o Outcome) Delivered() bool {
	if o.Duplicate {
		return o.ExistingStatus == models.DeliveryDelivered
	}
	return o.Status == models.DeliveryDelivered
}

// DeliveredArtifactID is the id of the artifact whose delivery holds the key.
func (o Outcome) DeliveredArtifactID() string {
	if o.Duplicate && o.ExistingArtifactID != "" {
		return o.ExistingArtifactID
	}
	return o.ArtifactID
}

// Dispatcher routes artifacts to the sink registered for their mode.
type Dispatcher struct {
	sinks   map[models.Mode]Sink
	ledger  *Ledger
	cfg     config.DispatchConfig
	metrics *observability.Metrics
	logger  *logging.Logger
}

// New creates a Dispatcher with no sinks.
func New(cfg config.DispatchConfig, ledger *Ledger, metrics *observability.Metrics, logger *logging.Logger) *Dispatcher {
	if ledger == nil {
		ledger = NewLedger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		sinks:   make(map[models.Mode]Sink),
		ledger:  ledger,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Register routes artifacts of mode to sink. It is not safe to call
// concurrently with Dispatch.
func (d *Dispatcher) Register(mode models.Mode, sink Sink) {
	d.sinks[mode] = sink
}

// Ledger returns the dispatcher's idempotency ledger.
func (d *Dispatcher) Ledger() *Ledger {
	return d.ledger
}

// Dispatch delivers one artifact. Failures are reported in the Outcome and
// never affect other artifacts.
func (d *Dispatcher) Dispatch(ctx context.Context, artifact *models.Artifact) Outcome {
	key := artifact.IdempotencyKey()
	out := Outcome{Key: key, ArtifactID: artifact.ID}
	logger := d.logger.With("key", key, "mode", artifact.Mode, "document_id", artifact.DocumentID)

	sink, ok := d.sinks[artifact.Mode]
	if !ok {
		out.Status = models.DeliverySkipped
		d.metrics.Delivery(context.WithoutCancel(ctx), string(artifact.Mode), string(out.Status))
		return out
	}

	if prev, ok := d.ledger.Claim(key, artifact.ID); !ok {
		logger.Info("duplicate delivery suppressed", "existing_status", prev.Status)
		out.Status = models.DeliverySkipped
		out.Duplicate = true
		out.ExistingArtifactID = prev.ArtifactID
		out.ExistingStatus = prev.Status
		d.metrics.Delivery(context.WithoutCancel(ctx), string(artifact.Mode), "duplicate")
		return out
	}

	if ctx.Err() != nil {
		return d.fail(ctx, logger, artifact, out, 0, false, ErrRunDeadline)
	}

	attempts := 0
	transient := false
	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		err := sink.Deliver(callCtx, artifact, key)
		if err == nil {
			return nil
		}
		transient = isTransient(err)
		if !transient || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, d.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn("delivery failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			err = ErrRunDeadline
		}
		return d.fail(ctx, logger, artifact, out, attempts, transient, err)
	}

	d.ledger.Finish(key, models.DeliveryDelivered, attempts, "")
	out.Status = models.DeliveryDelivered
	out.Attempts = attempts
	d.metrics.Delivery(context.WithoutCancel(ctx), string(artifact.Mode), string(out.Status))
	logger.Info("artifact delivered", "attempts", attempts)
	return out
}

func (d *Dispatcher) fail(ctx context.Context, logger *logging.Logger, artifact *models.Artifact, out Outcome, attempts int, transient bool, err error) Outcome {
	derr := &apperrors.DeliveryError{Key: out.Key, Attempts: attempts, Transient: transient, Err: err}
	d.ledger.Finish(out.Key, models.DeliveryFailed, attempts, err.Error())
	out.Status = models.DeliveryFailed
	out.Attempts = attempts
	out.Error = err.Error()
	d.metrics.Delivery(context.WithoutCancel(ctx), string(artifact.Mode), string(out.Status))
	logger.Error("artifact delivery failed", "error", derr)
	return out
}

func (d *Dispatcher) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInitialInterval
	b.MaxInterval = 10 * d.cfg.RetryInitialInterval
	b.MaxElapsedTime = 0
	var retries uint64
	if d.cfg.MaxRetries > 0 {
		retries = uint64(d.cfg.MaxRetries)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// isTransient classifies sink failures: non-2xx statuses by code, formatting
// problems as permanent, everything else (timeouts, connection errors, store
// errors) as transient.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return !errors.Is(err, ErrNotDeliverable)
}
