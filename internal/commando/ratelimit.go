package commando

import (
	"context"

	"golang.org/x/time/rate"
)

// CallLimiter gates how often new Commando calls may be dispatched.
// Grounded on internal/filetransfer/ratelimit.go's RateLimitedWriter, which
// wraps x/time/rate around byte throughput; here the token bucket gates
// call dispatch instead, one token per call rather than one per byte.
type CallLimiter struct {
	limiter *rate.Limiter
}

// NewCallLimiter builds a limiter allowing callsPerSecond dispatches with
// bursts up to burst. A non-positive callsPerSecond disables limiting.
func NewCallLimiter(callsPerSecond float64, burst int) *CallLimiter {
	if callsPerSecond <= 0 {
		return nil
	}
	return &CallLimiter{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), burst)}
}

// Wait blocks until a call may be dispatched, or ctx is done.
func (c *CallLimiter) Wait(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
