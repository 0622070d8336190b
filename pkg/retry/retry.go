// Package retry wraps calls to external collaborators with a bounded
// exponential backoff. Only transient failures are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
)

var (
	// ErrExhausted wraps the last failure once every attempt has been used.
	ErrExhausted = errors.New("retry attempts exhausted")

	// ErrInvalidAttempts is returned for a policy with fewer than one attempt.
	ErrInvalidAttempts = errors.New("max attempts must be at least 1")

	// ErrInvalidDelay is returned for a negative base delay or jitter.
	ErrInvalidDelay = errors.New("retry delays must not be negative")
)

// Policy defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxJitter   = time.Second
)

// maxShift keeps base << attempt from overflowing time.Duration.
const maxShift = 30

// Policy bounds the retry budget.
type Policy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"   yaml:"base_delay"`
	MaxJitter   time.Duration `json:"max_jitter"   yaml:"max_jitter"`
}

// DefaultPolicy returns three attempts starting at 500ms with up to 1s jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidAttempts, p.MaxAttempts)
	}

	if p.BaseDelay < 0 || p.MaxJitter < 0 {
		return fmt.Errorf("%w: base %s, jitter %s", ErrInvalidDelay, p.BaseDelay, p.MaxJitter)
	}

	return nil
}

// Backoff returns the delay after the failed attempt with zero-based index
// attempt: BaseDelay * 2^attempt + jitter.
func (p Policy) Backoff(attempt int, jitter time.Duration) time.Duration {
	return p.BaseDelay<<min(attempt, maxShift) + jitter
}

// Attempt describes one failed try that will be retried.
type Attempt struct {
	// Number is the 1-based index of the failed attempt.
	Number int
	Err    error
	Delay  time.Duration
}

type options struct {
	sleep     func(context.Context, time.Duration) error
	jitter    func(time.Duration) time.Duration
	retryable func(error) bool
	logger    *slog.Logger
	observer  func(Attempt)
}

// Option customizes Do.
type Option func(*options)

// WithSleep replaces the context-aware timer used between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithJitter replaces the uniform jitter source. It receives Policy.MaxJitter.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(o *options) { o.jitter = jitter }
}

// WithRetryable replaces faults.Retryable as the retry allow-list.
func WithRetryable(retryable func(error) bool) Option {
	return func(o *options) { o.retryable = retryable }
}

// WithLogger logs every retried failure at Warn.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver is called before every backoff.
func WithObserver(observer func(Attempt)) Option {
	return func(o *options) { o.observer = observer }
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. Non-retryable errors are returned unwrapped and
// without delay. Exhaustion returns an error wrapping both ErrExhausted and
// the last failure. Cancelling ctx during a backoff aborts with ctx.Err().
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T

	validateErr := policy.Validate()
	if validateErr != nil {
		return zero, validateErr
	}

	o := options{
		sleep:     sleepContext,
		jitter:    uniformJitter,
		retryable: faults.Retryable,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error

	for attempt := range policy.MaxAttempts {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if !o.retryable(err) {
			return zero, err
		}

		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.Backoff(attempt, o.jitter(policy.MaxJitter))

		o.logger.WarnContext(ctx, "retrying after transient failure",
			slog.String("source", "retry"),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("detail", err.Error()),
		)

		if o.observer != nil {
			o.observer(Attempt{Number: attempt + 1, Err: err, Delay: delay})
		}

		sleepErr := o.sleep(ctx, delay)
		if sleepErr != nil {
			return zero, sleepErr
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, policy.MaxAttempts, lastErr)
}

func uniformJitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}

	return rand.N(maxJitter + 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
