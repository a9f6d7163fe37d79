// ABOUTME: Generic reconnect loop with exponential backoff, jitter, and abortable sleep.
// ABOUTME: Keeps a channel's connect function running until the context is canceled.

package reconnect

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

const (
	// DefaultInitialDelay is the backoff starting point after a failure.
	DefaultInitialDelay = 2 * time.Second

	// DefaultMaxDelay caps the doubled backoff delay.
	DefaultMaxDelay = 60 * time.Second
)

// Outcome classifies how a connect attempt settled.
type Outcome string

const (
	// OutcomeClean means the connect function returned nil (clean disconnect).
	OutcomeClean Outcome = "clean"

	// OutcomeError means the connect function returned an error before or
	// during its handshake.
	OutcomeError Outcome = "error"
)

// Decision describes one settled attempt for the ShouldReconnect predicate.
type Decision struct {
	// Attempt counts consecutive attempts since the last successful open.
	Attempt int

	// Delay is the backoff that will be slept before the next attempt
	// (pre-doubling, without jitter applied).
	Delay time.Duration

	Outcome Outcome
	Err     error
}

// Options tunes the reconnect loop. The zero value is usable; defaults are
// applied for unset delays.
type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// JitterRatio spreads each sleep by delay*ratio in both directions.
	// Zero disables jitter.
	JitterRatio float64

	// OnError is invoked for every failed attempt, except a failure that
	// lands after the context is already canceled (shutdown teardown noise
	// would otherwise be double-reported).
	OnError func(err error, attempt int)

	// ShouldReconnect can veto further attempts. When it returns false the
	// loop ends, returning the attempt's error if there was one.
	ShouldReconnect func(d Decision) bool

	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.InitialDelay <= 0 {
		out.InitialDelay = DefaultInitialDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = DefaultMaxDelay
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Run repeatedly invokes connect until ctx is canceled. A nil return from
// connect is a clean disconnect: the backoff delay resets and the loop
// reconnects immediately. An error schedules a sleep of the current delay,
// then doubles it (capped at MaxDelay) for the following failure.
//
// Exactly one connect invocation is in flight at any time. Run returns nil
// when canceled or when ShouldReconnect vetoes after a clean disconnect, and
// the last error when ShouldReconnect vetoes after a failure.
func Run(ctx context.Context, connect func(ctx context.Context) error, opts Options) error {
	o := opts.withDefaults()
	delay := o.InitialDelay
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		err := connect(ctx)

		if err == nil {
			// The connection opened and later closed cleanly. Reset the
			// escalation state and go straight back to connecting.
			delay = o.InitialDelay
			attempt = 0
			if o.ShouldReconnect != nil && !o.ShouldReconnect(Decision{Attempt: attempt, Delay: delay, Outcome: OutcomeClean}) {
				return nil
			}
			continue
		}

		if ctx.Err() != nil {
			// A failure racing shutdown is not reported via OnError; the
			// teardown itself caused it more often than not.
			o.Logger.Debug("connect error during shutdown", "error", err)
			return nil
		}

		if o.OnError != nil {
			o.OnError(err, attempt)
		}

		if o.ShouldReconnect != nil && !o.ShouldReconnect(Decision{Attempt: attempt, Delay: delay, Outcome: OutcomeError, Err: err}) {
			return err
		}

		// The sleep uses the current (pre-doubling) delay; only after it is
		// scheduled does the delay escalate for the next failure.
		sleep := jittered(delay, o.JitterRatio)
		delay = nextDelay(delay, o.MaxDelay)

		if !sleepCtx(ctx, sleep) {
			return nil
		}
	}
}

// nextDelay doubles the delay, capped at max.
func nextDelay(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		delay = max
	}
	return delay
}

// jittered applies symmetric jitter of delay*ratio and clamps the result to
// at least one millisecond.
func jittered(delay time.Duration, ratio float64) time.Duration {
	if ratio > 0 {
		spread := time.Duration(float64(delay) * ratio)
		delay = delay - spread + time.Duration(rand.Float64()*float64(spread)*2)
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}

// sleepCtx sleeps for d or until ctx is canceled. Returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
