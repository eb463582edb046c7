package utils

import (
	"context"
	"time"
)

// SleepContext pauses for d unless ctx ends first, in which case it returns
// the context error. A non-positive d returns immediately.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Stamp formats t for timestamp-addressed artifact names.
func Stamp(t time.Time) string {
	return t.Format("20060102_1504")
}
