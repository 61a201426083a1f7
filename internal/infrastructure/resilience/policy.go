package resilience

import "time"

// Hooks observe executor decisions. Nil funcs are skipped.
type Hooks struct {
	OnRetry       func(operation string, attempt int)
	OnGiveUp      func(operation string, reason string)
	OnStateChange func(operation, from, to string)
}

// Config is shared by every collaborator the pipeline calls: the LLM, the
// search backend, redis and NATS. Breakers are keyed per operation name.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// AttemptTimeout bounds a single attempt; zero leaves only the caller's deadline.
	AttemptTimeout time.Duration

	// MinAttemptBudget is the least time that must remain on the caller's
	// deadline after a backoff for another attempt to start.
	MinAttemptBudget time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	Hooks Hooks
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,
		MinAttemptBudget:    250 * time.Millisecond,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = positiveInt(out.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = positiveDuration(out.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(positiveDuration(out.RetryMaxBackoff, def.RetryMaxBackoff), out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	out.AttemptTimeout = max(out.AttemptTimeout, 0)
	out.MinAttemptBudget = max(out.MinAttemptBudget, 0)

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = positiveDuration(out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return out
}

// backoffAt returns the wait before attempt+1, capped at RetryMaxBackoff.
func (c Config) backoffAt(attempt int) time.Duration {
	wait := c.RetryInitialBackoff
	for i := 1; i < attempt && wait < c.RetryMaxBackoff; i++ {
		wait = time.Duration(float64(wait) * c.RetryMultiplier)
	}
	return min(wait, c.RetryMaxBackoff)
}

func positiveInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func positiveDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
