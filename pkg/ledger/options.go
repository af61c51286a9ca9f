package ledger

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	defaultTxTimeout      = 5 * time.Second
	defaultMaxRetries     = 4
	defaultRetryBaseDelay = 10 * time.Millisecond
	maxRetryDelay         = time.Second
)

// Observer receives transaction instrumentation.
type Observer interface {
	ObserveLedgerTx(outcome string, attempts int, duration time.Duration)
}

// Transaction outcomes reported to the Observer.
const (
	OutcomeCommitted  = "committed"
	OutcomeAborted    = "aborted"
	OutcomeConflicted = "conflicted"
)

type options struct {
	timeout        time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *zap.Logger
	hook           CommitHook
	observer       Observer
}

// Option configures a driver.
type Option func(*options)

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a conflicting transaction is re-run.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryBaseDelay sets the first backoff step.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryBaseDelay = d
		}
	}
}

// WithLogger sets the driver logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCommitHook streams committed revisions to hook.
func WithCommitHook(hook CommitHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

// WithObserver reports transaction timings.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func buildOptions(opts []Option) options {
	o := options{
		timeout:        defaultTxTimeout,
		maxRetries:     defaultMaxRetries,
		retryBaseDelay: defaultRetryBaseDelay,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) observe(outcome string, attempts int, started time.Time) {
	if o.observer != nil {
		o.observer.ObserveLedgerTx(outcome, attempts, time.Since(started))
	}
}

func (o options) publish(ctx context.Context, revisions []Revision) {
	if o.hook == nil || len(revisions) == 0 {
		return
	}
	o.hook(ctx, revisions)
}

// serialization_failure and deadlock_detected.
var retryableCodes = map[pq.ErrorCode]struct{}{
	"40001": {},
	"40P01": {},
}

// IsRetryable reports whether err is a PostgreSQL concurrency-control abort.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	_, ok := retryableCodes[pqErr.Code]
	return ok
}

// backoff returns the delay before retry attempt n (1-based): exponential growth capped
// at maxRetryDelay with full jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
