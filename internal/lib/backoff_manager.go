package lib

import (
	"math/rand"
	"time"
)

// BackoffConfig describes an exponential backoff. The delay grows by BackoffMultiplier up to
// MaxBackoff and starts over once ResetAfter has passed since the last reset.
type BackoffConfig struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	ResetAfter        time.Duration
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2,
		ResetAfter:        time.Minute,
	}
}

// BackoffManager is not safe for concurrent use
type BackoffManager struct {
	config         BackoffConfig
	currentBackoff time.Duration
	lastReset      time.Time
	attempts       int
}

func NewBackoffManager(config BackoffConfig) *BackoffManager {
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 1
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	return &BackoffManager{
		config:         config,
		currentBackoff: config.InitialBackoff,
		lastReset:      time.Now(),
	}
}

// NextBackoff returns the delay before the next attempt, with up to 10% jitter added
func (b *BackoffManager) NextBackoff() time.Duration {
	now := time.Now()
	if b.config.ResetAfter > 0 && now.Sub(b.lastReset) > b.config.ResetAfter {
		b.currentBackoff = b.config.InitialBackoff
		b.lastReset = now
		b.attempts = 0
	}

	backoff := b.currentBackoff
	jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
	backoff += jitter

	b.currentBackoff = time.Duration(float64(b.currentBackoff) * b.config.BackoffMultiplier)
	if b.currentBackoff > b.config.MaxBackoff {
		b.currentBackoff = b.config.MaxBackoff
	}
	b.attempts++

	return backoff
}

// Attempts returns how many delays were handed out since the last reset
func (b *BackoffManager) Attempts() int {
	return b.attempts
}

func (b *BackoffManager) Reset() {
	b.currentBackoff = b.config.InitialBackoff
	b.lastReset = time.Now()
	b.attempts = 0
}
