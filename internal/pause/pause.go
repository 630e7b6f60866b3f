// Package pause decides how long to wait between pushes and performs the wait.
package pause

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/logger"
)

// Policy names accepted by New.
const (
	PolicyConstant    = "constant"
	PolicyExponential = "exponential"
)

// Policy returns the pause after the given push. Steps start at 1.
type Policy interface {
	Delay(step int) time.Duration
}

// Constant waits the same duration after every push.
type Constant struct {
	D time.Duration
}

// Delay implements Policy.
func (c Constant) Delay(step int) time.Duration {
	return backoff.NewConstantBackOff(c.D).NextBackOff()
}

// Exponential multiplies the base delay by Factor for every step after the
// first, capped at Max when Max is positive.
type Exponential struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// backOff returns a fresh, unjittered schedule that never gives up.
func (e Exponential) backOff() *backoff.ExponentialBackOff {
	max := e.Max
	if max <= 0 {
		max = time.Duration(math.MaxInt64)
	}
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(e.Base),
		backoff.WithMultiplier(e.Factor),
		backoff.WithMaxInterval(max),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// Delay implements Policy by replaying the schedule up to step.
func (e Exponential) Delay(step int) time.Duration {
	b := e.backOff()
	d := b.NextBackOff()
	for i := 1; i < step && d < b.MaxInterval; i++ {
		d = b.NextBackOff()
	}
	return d
}

// New builds a policy by name. A zero max leaves exponential growth uncapped.
func New(kind string, base, max time.Duration) (Policy, error) {
	if base < 0 {
		return nil, gitchunkErrors.NewConfigError("pause", base,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, "must not be negative"))
	}

	switch kind {
	case PolicyConstant, "":
		return Constant{D: base}, nil
	case PolicyExponential:
		if max < 0 {
			return nil, gitchunkErrors.NewConfigError("max-pause", max,
				gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, "must not be negative"))
		}
		return Exponential{Base: base, Factor: 2, Max: max}, nil
	default:
		return nil, gitchunkErrors.NewConfigError("backoff", kind,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration,
				fmt.Sprintf("unknown policy (want %q or %q)", PolicyConstant, PolicyExponential)))
	}
}

// Sleeper waits between pushes.
type Sleeper interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper waits on a timer and reports the remaining time every Interval.
type TimerSleeper struct {
	Logger   logger.Logger
	Interval time.Duration
}

// NewTimerSleeper returns a sleeper that reports progress once a minute.
func NewTimerSleeper(log logger.Logger) *TimerSleeper {
	return &TimerSleeper{Logger: log, Interval: time.Minute}
}

// Sleep implements Sleeper.
func (s *TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var tick <-chan time.Time
	if s.Interval > 0 && s.Interval < d {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	deadline := time.Now().Add(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-tick:
			if s.Logger != nil {
				remaining := time.Until(deadline).Round(time.Second)
				s.Logger.StatusMessage("⏳ Waiting %s before the next push...", remaining)
			}
		}
	}
}
