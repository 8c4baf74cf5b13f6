package lib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withinJitter(t *testing.T, base, got time.Duration) {
	t.Helper()
	assert.GreaterOrEqual(t, got, base)
	assert.LessOrEqual(t, got, base+base/10)
}

func TestBackoffManager_NextBackoff(t *testing.T) {
	b := NewBackoffManager(BackoffConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        300 * time.Millisecond,
		BackoffMultiplier: 2,
		ResetAfter:        time.Hour,
	})

	withinJitter(t, 100*time.Millisecond, b.NextBackoff())
	withinJitter(t, 200*time.Millisecond, b.NextBackoff())
	withinJitter(t, 300*time.Millisecond, b.NextBackoff())
	withinJitter(t, 300*time.Millisecond, b.NextBackoff())
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	withinJitter(t, 100*time.Millisecond, b.NextBackoff())
}

func TestBackoffManager_ResetAfter(t *testing.T) {
	b := NewBackoffManager(BackoffConfig{
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 3,
		ResetAfter:        time.Nanosecond,
	})

	b.NextBackoff()
	time.Sleep(time.Millisecond)
	withinJitter(t, 10*time.Millisecond, b.NextBackoff())
}

func TestBackoffManager_NormalizesConfig(t *testing.T) {
	b := NewBackoffManager(BackoffConfig{InitialBackoff: 50 * time.Millisecond})

	withinJitter(t, 50*time.Millisecond, b.NextBackoff())
	withinJitter(t, 50*time.Millisecond, b.NextBackoff())
	assert.Equal(t, DefaultBackoffConfig().BackoffMultiplier, float64(2))
}
