package registry

import "time"

// Config holds the negotiation and data exchange settings of an Originator
type Config struct {
	// AckTimeout is how long one broadcast waits for its acknowledgement
	AckTimeout time.Duration

	// BroadcastRetries is the number of broadcasts per channel before
	// negotiation of that channel is given up
	BroadcastRetries int

	// PollInterval is the sleep between acknowledgement checks
	PollInterval time.Duration

	// ModeSwitchInterval is how often SendData flips between pushing data
	// and pulling queued responses
	ModeSwitchInterval time.Duration

	// Clock returns the current time; overridden in tests
	Clock func() time.Time
}

// DefaultConfig returns the standard handshake timing
func DefaultConfig() Config {
	return Config{
		AckTimeout:         500 * time.Millisecond,
		BroadcastRetries:   3,
		PollInterval:       5 * time.Millisecond,
		ModeSwitchInterval: time.Second,
		Clock:              time.Now,
	}
}

// Option is a functional option for configuring the Originator.
type Option func(*Config)

// WithConfig replaces every setting at once; zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		if cfg.AckTimeout > 0 {
			c.AckTimeout = cfg.AckTimeout
		}
		if cfg.BroadcastRetries > 0 {
			c.BroadcastRetries = cfg.BroadcastRetries
		}
		if cfg.PollInterval > 0 {
			c.PollInterval = cfg.PollInterval
		}
		if cfg.ModeSwitchInterval > 0 {
			c.ModeSwitchInterval = cfg.ModeSwitchInterval
		}
		if cfg.Clock != nil {
			c.Clock = cfg.Clock
		}
	}
}

// WithAckTimeout sets the per-broadcast acknowledgement timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AckTimeout = d
	}
}

// WithBroadcastRetries sets how many broadcasts a channel gets.
func WithBroadcastRetries(n int) Option {
	return func(c *Config) {
		c.BroadcastRetries = n
	}
}

// WithPollInterval sets the acknowledgement polling period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithModeSwitchInterval sets the push/pull alternation period.
func WithModeSwitchInterval(d time.Duration) Option {
	return func(c *Config) {
		c.ModeSwitchInterval = d
	}
}

// WithClock substitutes the time source used by the mode timer.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
