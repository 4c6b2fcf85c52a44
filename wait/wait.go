// Package wait provides retry loops with configurable backoff strategies.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrTimeout           = errors.New("wait: timeout exceeded")
	ErrMaxRetriesReached = errors.New("wait: maximum retries reached")
	ErrCanceled          = errors.New("wait: operation canceled")
)

// Strategy defines the interface for wait strategies
type Strategy interface {
	Next() (time.Duration, bool)
	Reset()
}

// NotifyFunc is called after a failed attempt, before sleeping for next.
type NotifyFunc func(attempt int, err error, next time.Duration)

// Options configures retry behavior. A zero MaxRetries or Timeout means no limit.
type Options struct {
	MaxRetries int
	Timeout    time.Duration
	Strategy   Strategy
	Context    context.Context
	Notify     NotifyFunc
}

// DefaultOptions returns options that retry forever, starting at 10 seconds
// and doubling up to 10 minutes between attempts.
func DefaultOptions() *Options {
	return &Options{
		Strategy: NewReconnectStrategy(),
		Context:  context.Background(),
	}
}

// WithMaxRetries sets the maximum number of attempts
func (o *Options) WithMaxRetries(n int) *Options {
	o.MaxRetries = n
	return o
}

// WithTimeout sets the overall timeout
func (o *Options) WithTimeout(d time.Duration) *Options {
	o.Timeout = d
	return o
}

// WithStrategy sets the wait strategy
func (o *Options) WithStrategy(s Strategy) *Options {
	o.Strategy = s
	return o
}

// WithContext sets the context for cancellation
func (o *Options) WithContext(ctx context.Context) *Options {
	o.Context = ctx
	return o
}

// WithNotify sets the callback invoked after each failed attempt
func (o *Options) WithNotify(fn NotifyFunc) *Options {
	o.Notify = fn
	return o
}

// Retry calls fn until it returns nil. Between failures it sleeps for the
// duration given by the strategy. It stops early when the context is done,
// the timeout elapses, or the retry limit is reached; the last error from fn
// is wrapped into the returned error in those cases.
func Retry(fn func(ctx context.Context) error, opts ...*Options) error {
	options := mergeOptions(opts...)

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	options.Strategy.Reset()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return stopped(err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		attempts++
		if options.MaxRetries > 0 && attempts >= options.MaxRetries {
			return fmt.Errorf("%w: %w", ErrMaxRetriesReached, err)
		}

		waitDuration, ok := options.Strategy.Next()
		if !ok {
			return fmt.Errorf("%w: %w", ErrMaxRetriesReached, err)
		}

		if options.Notify != nil {
			options.Notify(attempts, err, waitDuration)
		}

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stopped(ctx.Err())
		case <-timer.C:
		}
	}
}

func stopped(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

// mergeOptions merges provided options with defaults
func mergeOptions(opts ...*Options) *Options {
	if len(opts) == 0 || opts[0] == nil {
		return DefaultOptions()
	}
	if opts[0].Strategy == nil {
		opts[0].Strategy = NewReconnectStrategy()
	}
	return opts[0]
}
