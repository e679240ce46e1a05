package resilience

import "time"

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// AttemptTimeout bounds each attempt; zero leaves only the caller deadline.
	AttemptTimeout time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// Profile picks retry and breaker defaults for one kind of dependency.
type Profile string

const (
	// ProfileQueue suits cheap broker publishes: quick retries, short open
	// window.
	ProfileQueue Profile = "queue"
	// ProfileOCR suits image annotation calls of a few seconds.
	ProfileOCR Profile = "ocr"
	// ProfileLLM suits completions that may take tens of seconds and are
	// often rate limited.
	ProfileLLM Profile = "llm"
)

func DefaultConfig() Config {
	return ConfigFor(ProfileQueue)
}

func ConfigFor(p Profile) Config {
	cfg := Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
	switch p {
	case ProfileOCR:
		cfg.RetryInitialBackoff = 500 * time.Millisecond
		cfg.RetryMaxBackoff = 2 * time.Second
		cfg.BreakerMinRequests = 5
	case ProfileLLM:
		cfg.RetryMaxAttempts = 2
		cfg.RetryInitialBackoff = time.Second
		cfg.RetryMaxBackoff = 5 * time.Second
		cfg.BreakerMinRequests = 5
		cfg.BreakerOpenTimeout = time.Minute
		cfg.BreakerHalfOpenMaxCalls = 1
	}
	return cfg
}

// normalize fills unset or out-of-range fields from DefaultConfig.
func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	out.RetryMaxAttempts = positiveOr(out.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = positiveOr(out.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(positiveOr(out.RetryMaxBackoff, def.RetryMaxBackoff), out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	out.BreakerMinRequests = positiveOr(out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = positiveOr(out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = positiveOr(out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}

func positiveOr[T int | uint32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
