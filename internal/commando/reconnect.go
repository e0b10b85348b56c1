package commando

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig parameterizes the reconnect policy. Grounded on
// internal/peer/reconnect.go's ReconnectConfig/BackoffCalculator, with the
// teacher's time-based jitter (noted in that file as worth revisiting)
// replaced by math/rand, and reparameterized to spec.md's exact numbers.
type BackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int
}

// DefaultBackoffConfig is spec.md §4.7's reconnect policy: base 500ms,
// factor 2, cap 30s, ±20% jitter, giving up after 6 attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        500 * time.Millisecond,
		Max:         30 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
		MaxAttempts: 6,
	}
}

// backoff computes successive reconnect delays for a single persistent
// connection (unlike the teacher's Reconnector, which keys state by peer
// address for many simultaneous peers, Commando owns exactly one socket).
type backoff struct {
	cfg BackoffConfig
	rnd *rand.Rand
}

func newBackoff(cfg BackoffConfig) *backoff {
	return &backoff{cfg: cfg, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// delay returns the backoff duration for the given 0-indexed attempt
// number, with jitter applied.
func (b *backoff) delay(attempt int) time.Duration {
	base := float64(b.cfg.Base) * math.Pow(b.cfg.Factor, float64(attempt))
	if base > float64(b.cfg.Max) {
		base = float64(b.cfg.Max)
	}
	if b.cfg.Jitter <= 0 {
		return time.Duration(base)
	}
	spread := base * b.cfg.Jitter
	jittered := base + (b.rnd.Float64()*2-1)*spread
	if jittered < 0 {
		jittered = base
	}
	return time.Duration(jittered)
}

// exhausted reports whether attempt (0-indexed, about to be made) exceeds
// the configured ceiling. A MaxAttempts of 0 means unlimited.
func (b *backoff) exhausted(attempt int) bool {
	return b.cfg.MaxAttempts > 0 && attempt >= b.cfg.MaxAttempts
}
