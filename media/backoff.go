package media

import (
	"context"
	"time"
)

// Scheduler abstracts waiting for deterministic testing.
// Implementations must be safe for concurrent use.
type Scheduler interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultScheduler waits on the wall clock.
type DefaultScheduler struct{}

// Sleep waits for d or until ctx is done.
func (DefaultScheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffPolicy bounds the busy-device retry sequence.
type BackoffPolicy struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int
	// InitialDelay is the wait between attempt 1 and attempt 2.
	InitialDelay time.Duration
	// Multiplier scales each following delay.
	Multiplier float64
}

// DefaultMicrophoneBackoff is three attempts waiting 1000ms then 1500ms.
func DefaultMicrophoneBackoff() BackoffPolicy {
	return BackoffPolicy{
		Attempts:     3,
		InitialDelay: 1000 * time.Millisecond,
		Multiplier:   1.5,
	}
}

// Delays returns the delay table: entry i is the wait before attempt i+2.
func (p BackoffPolicy) Delays() []time.Duration {
	if p.Attempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, p.Attempts-1)
	delay := float64(p.InitialDelay)
	for i := range delays {
		delays[i] = time.Duration(delay)
		delay *= p.Multiplier
	}
	return delays
}
