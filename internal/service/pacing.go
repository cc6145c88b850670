package service

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive sends of one job.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a pacer that lets the first send through at once and
// each following one after delay. A zero delay never waits.
func NewPacer(delay time.Duration) Pacer {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
