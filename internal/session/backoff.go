package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tradewell/ctpgate/config"
)

// Reconnector tracks the backoff schedule for one channel's reconnect
// attempts. It never sleeps itself; the run loop asks for the next delay
// and arms its own timer, which keeps the schedule testable.
type Reconnector struct {
	policy  config.ReconnectPolicy
	backoff *backoff.ExponentialBackOff
	attempt int
}

// NewReconnector builds a schedule from the configured policy.
func NewReconnector(policy config.ReconnectPolicy) *Reconnector {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = policy.Multiplier
	b.MaxInterval = policy.MaxInterval
	b.Reset()
	return &Reconnector{policy: policy, backoff: b}
}

// Next returns the delay before the next reconnect attempt, or false when
// the attempt budget is exhausted.
func (r *Reconnector) Next() (time.Duration, bool) {
	if r.policy.MaxAttempts > 0 && r.attempt >= r.policy.MaxAttempts {
		return 0, false
	}
	r.attempt++
	return r.backoff.NextBackOff(), true
}

// Attempt reports how many reconnects have been scheduled since the last reset.
func (r *Reconnector) Attempt() int { return r.attempt }

// Reset clears the schedule after a successful login.
func (r *Reconnector) Reset() {
	r.attempt = 0
	r.backoff.Reset()
}
