package service

import (
	"context"
	"time"
)

// Pacer spaces out transport calls
type Pacer interface {
	// Wait blocks for d or until ctx is done, returning ctx.Err() in that case
	Wait(ctx context.Context, d time.Duration) error
}

// TimerPacer waits on a real timer
type TimerPacer struct{}

func (TimerPacer) Wait(ctx context.Context, d time.Duration) error {
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
