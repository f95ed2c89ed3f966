package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelayMs   int // base delay in milliseconds
	JitterDelayMs int // random jitter range in milliseconds
}

// TimingDelay equalizes the observable duration of authentication
// failures so "user not found" and "wrong password" are indistinguishable
// by response time.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandIntn returns a secure random number in [0, max)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int(randomValue % uint64(max)), nil
}

// Wait sleeps for base delay plus random jitter. Call on every failed
// credential check before returning.
func (td *TimingDelay) Wait() {
	baseDelay := time.Duration(td.config.BaseDelayMs) * time.Millisecond

	var jitter time.Duration
	if td.config.JitterDelayMs > 0 {
		randomValue, err := cryptoRandIntn(td.config.JitterDelayMs)
		if err == nil {
			jitter = time.Duration(randomValue) * time.Millisecond
		}
	}

	time.Sleep(baseDelay + jitter)
}
