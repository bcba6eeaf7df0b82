package retry

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Policy decides, after a failed attempt, whether another attempt is allowed
// and how long to wait before it. Attempt indexes are zero-based.
type Policy interface {
	Delay(attempt int) time.Duration
	ShouldRetry(attempt int) bool
}

// FixedDelay waits the same duration between every attempt.
type FixedDelay struct {
	Wait        time.Duration
	MaxAttempts int
}

func (p FixedDelay) Delay(int) time.Duration { return p.Wait }

func (p FixedDelay) ShouldRetry(attempt int) bool { return attempt < p.MaxAttempts-1 }

// ExponentialBackoff waits Base·Multiplier^attempt, capped at Max.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

func (p ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(p.Base) * pow(p.Multiplier, attempt))
	if delay > p.Max {
		return p.Max
	}
	return delay
}

func (p ExponentialBackoff) ShouldRetry(attempt int) bool { return attempt < p.MaxAttempts-1 }

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Fallback governs what the executor returns once the policy stops retrying.
type Fallback int

const (
	// Propagate returns the terminal error to the caller.
	Propagate Fallback = iota
	// ReturnNone masks the error and returns the zero value; the caller must
	// treat absence as "skip this cycle".
	ReturnNone
	// ReturnDefault masks the error and returns the executor's Default value.
	ReturnDefault
	// LogAndContinue masks the error and returns the zero value; the failure is
	// a soft no-op from the caller's point of view.
	LogAndContinue
)

// Executor runs an operation under a retry policy with a terminal fallback.
// It makes no judgment about error kinds; whether an operation is worth
// retrying at all is the caller's decision.
type Executor[T any] struct {
	Policy   Policy
	Fallback Fallback
	Default  T

	// Sleep is replaceable in tests. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// Execute runs op until it succeeds or the policy gives up. Every failed
// attempt is logged at warning level and the terminal outcome at error level;
// the original error is always visible in the terminal log line even when the
// fallback masks it from the returned values.
func (e *Executor[T]) Execute(log *logrus.Entry, name string, op func() (T, error)) (T, error) {
	sleep := e.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var zero T
	var lastErr error
	totalDelay := time.Duration(0)

	for attempt := 0; ; attempt++ {
		value, err := op()
		if err == nil {
			if attempt > 0 {
				log.WithField("operation", name).Infof("succeeded on attempt %d", attempt+1)
			}
			return value, nil
		}

		lastErr = err
		log.WithField("operation", name).WithError(err).Warnf("attempt %d failed", attempt+1)

		if !e.Policy.ShouldRetry(attempt) {
			log.WithFields(logrus.Fields{
				"operation":   name,
				"attempts":    attempt + 1,
				"total_delay": totalDelay.String(),
			}).WithError(lastErr).Error("exhausted all retries")
			break
		}

		delay := e.Policy.Delay(attempt)
		totalDelay += delay
		sleep(delay)
	}

	switch e.Fallback {
	case ReturnNone:
		return zero, nil
	case ReturnDefault:
		return e.Default, nil
	case LogAndContinue:
		log.WithField("operation", name).Info("continuing despite failure")
		return zero, nil
	default:
		return zero, lastErr
	}
}

// RemoteAPI is the standing configuration for remote classification and label
// calls: fixed 65s delay (quota cooldown), 3 attempts, log-and-continue so the
// last good downstream artifact is preserved.
func RemoteAPI[T any]() *Executor[T] {
	return &Executor[T]{
		Policy:   FixedDelay{Wait: 65 * time.Second, MaxAttempts: 3},
		Fallback: LogAndContinue,
	}
}

// DurableStore is the standing configuration for durable store reads and
// writes: exponential 1s→2s→4s capped at 30s, 3 attempts, return-none.
func DurableStore[T any]() *Executor[T] {
	return &Executor[T]{
		Policy:   ExponentialBackoff{Base: time.Second, Max: 30 * time.Second, Multiplier: 2, MaxAttempts: 3},
		Fallback: ReturnNone,
	}
}

// LocalFile is the standing configuration for local durable file access:
// fixed 1s delay, 3 attempts, return the supplied default.
func LocalFile[T any](defaultValue T) *Executor[T] {
	return &Executor[T]{
		Policy:   FixedDelay{Wait: time.Second, MaxAttempts: 3},
		Fallback: ReturnDefault,
		Default:  defaultValue,
	}
}
