package transport

import "time"

const (
	// InboxSizeMinimum is the smallest inbox any device guarantees.
	InboxSizeMinimum uint32 = 124
	// InboxSizeMaximum is the largest inbox a device will grant.
	InboxSizeMaximum uint32 = 8200
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       bool
}

// Config defines endpoint buffer sizes and delivery timeouts.
type Config struct {
	InboxSize    uint32
	OutboxSize   uint32
	AckTimeout   time.Duration
	WriteTimeout time.Duration
	Backoff      BackoffConfig
}

// DefaultConfig is the device side: largest possible inbox for picture data,
// small outbox since it only ever sends the handshake.
func DefaultConfig() Config {
	return Config{
		InboxSize:    InboxSizeMaximum,
		OutboxSize:   64,
		AckTimeout:   5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			MaxAttempts:  5,
			Jitter:       true,
		},
	}
}

// CompanionConfig is the sending side: small inbox, outbox large enough for
// any chunk the device can accept.
func CompanionConfig() Config {
	cfg := DefaultConfig()
	cfg.InboxSize = 1024
	cfg.OutboxSize = InboxSizeMaximum
	return cfg
}

// Normalize clamps buffer sizes into the supported range.
func (c Config) Normalize() Config {
	if c.InboxSize < InboxSizeMinimum {
		c.InboxSize = InboxSizeMinimum
	}
	if c.InboxSize > InboxSizeMaximum {
		c.InboxSize = InboxSizeMaximum
	}
	if c.OutboxSize == 0 {
		c.OutboxSize = 64
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	return c
}
