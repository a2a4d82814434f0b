package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/telemetry"
)

// RetryPolicy bounds retries of retryable blobstore failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Retrying retries operations that fail with a retryable fault.
type Retrying struct {
	next   Client
	policy RetryPolicy
	logger zerolog.Logger
}

// WithRetry wraps c. Zero policy fields default to 3 attempts starting at
// 500ms.
func WithRetry(c Client, policy RetryPolicy, logger zerolog.Logger) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 500 * time.Millisecond
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = 10 * time.Second
	}
	return &Retrying{
		next:   c,
		policy: policy,
		logger: logger.With().Str("component", "blobstore").Logger(),
	}
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !fault.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn().Err(err).Str("operation", op).Dur("retry_in", next).Msg("Blobstore operation failed, retrying")
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return result, err
}

func (r *Retrying) Get(ctx context.Context, id string) ([]byte, error) {
	return retry(ctx, r, "get", func() ([]byte, error) { return r.next.Get(ctx, id) })
}

func (r *Retrying) Create(ctx context.Context, data []byte) (string, error) {
	return retry(ctx, r, "create", func() (string, error) { return r.next.Create(ctx, data) })
}

func (r *Retrying) Delete(ctx context.Context, id string) error {
	_, err := retry(ctx, r, "delete", func() (struct{}, error) { return struct{}{}, r.next.Delete(ctx, id) })
	return err
}

func (r *Retrying) Exists(ctx context.Context, id string) (bool, error) {
	return retry(ctx, r, "exists", func() (bool, error) { return r.next.Exists(ctx, id) })
}

// Instrumented counts operations by outcome.
type Instrumented struct {
	next    Client
	metrics *telemetry.Metrics
}

// WithMetrics wraps c.
func WithMetrics(c Client, m *telemetry.Metrics) *Instrumented {
	return &Instrumented{next: c, metrics: m}
}

func (i *Instrumented) record(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case fault.IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	i.metrics.RecordBlobOperation(op, outcome)
}

func (i *Instrumented) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := i.next.Get(ctx, id)
	i.record("get", err)
	return data, err
}

func (i *Instrumented) Create(ctx context.Context, data []byte) (string, error) {
	id, err := i.next.Create(ctx, data)
	i.record("create", err)
	return id, err
}

func (i *Instrumented) Delete(ctx context.Context, id string) error {
	err := i.next.Delete(ctx, id)
	i.record("delete", err)
	return err
}

func (i *Instrumented) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := i.next.Exists(ctx, id)
	i.record("exists", err)
	return ok, err
}
