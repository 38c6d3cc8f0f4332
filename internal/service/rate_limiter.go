package service

import (
	"sync"
	"time"
)

// RateLimiter caps uploads per client address over a sliding one-minute
// window. A limit of zero disables it.
type RateLimiter struct {
	mu sync.Mutex

	maxUploadsPerMinute int
	windows             map[string]*uploadWindow
}

type uploadWindow struct {
	count     int
	windowEnd time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxUploadsPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxUploadsPerMinute: maxUploadsPerMinute,
		windows:             make(map[string]*uploadWindow),
	}
}

// CheckUploadRate checks if the client may submit another job
func (rl *RateLimiter) CheckUploadRate(clientAddr string) error {
	if rl.maxUploadsPerMinute <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window, exists := rl.windows[clientAddr]

	if !exists || now.After(window.windowEnd) {
		rl.windows[clientAddr] = &uploadWindow{
			count:     1,
			windowEnd: now.Add(1 * time.Minute),
		}
		return nil
	}

	if window.count >= rl.maxUploadsPerMinute {
		return ErrRateLimitExceeded
	}

	window.count++
	return nil
}
