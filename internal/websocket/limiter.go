package websocket

import (
	"sync"
	"time"
)

// FrameLimits caps inbound frames per minute, by frame family.
type FrameLimits struct {
	MaxLifecycle int
	MaxHeartbeat int
	MaxReload    int
}

var DefaultFrameLimits = FrameLimits{
	MaxLifecycle: 120,
	MaxHeartbeat: 60,
	MaxReload:    10,
}

// frameLimiter is a per-connection bucket refilled once a minute.
type frameLimiter struct {
	limits     FrameLimits
	lifecycle  int
	heartbeat  int
	reload     int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func newFrameLimiter(limits FrameLimits, now func() time.Time) *frameLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &frameLimiter{limits: limits, now: now, lastRefill: now()}
	rl.refill()
	return rl
}

func (rl *frameLimiter) Allow(frameType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refill()
		rl.lastRefill = now
	}

	var tokens *int
	switch frameType {
	case FrameAppState, FrameMount, FrameUnmount:
		tokens = &rl.lifecycle
	case FrameHeartbeat:
		tokens = &rl.heartbeat
	case FrameReload:
		tokens = &rl.reload
	default:
		return true
	}
	if *tokens <= 0 {
		return false
	}
	*tokens--
	return true
}

func (rl *frameLimiter) refill() {
	rl.lifecycle = rl.limits.MaxLifecycle
	rl.heartbeat = rl.limits.MaxHeartbeat
	rl.reload = rl.limits.MaxReload
}
