// Package lifecycle turns app-state and mount signals into presence
// transitions. Both signals drive the same tracker, so a background and
// foreground flip inside the grace period never shows the user offline.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	kindred_errors "kindred-chat/pkg/errors"
)

type AppState string

const (
	Foreground AppState = "foreground"
	Background AppState = "background"
	Inactive   AppState = "inactive"
)

// ParseAppState accepts the client spellings, including "active" for
// foreground.
func ParseAppState(s string) (AppState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foreground", "active":
		return Foreground, nil
	case "background":
		return Background, nil
	case "inactive":
		return Inactive, nil
	}
	return "", fmt.Errorf("%w: unknown app state %q", kindred_errors.ErrInvalidInput, s)
}

// Presence is the tracker side of the coordinator.
type Presence interface {
	Acquire(ctx context.Context)
	Release(ctx context.Context)
}

type Coordinator struct {
	presence Presence

	mu      sync.Mutex
	state   AppState
	mounts  int
	present bool
}

// NewCoordinator starts in the foreground with nothing mounted.
func NewCoordinator(p Presence) *Coordinator {
	return &Coordinator{presence: p, state: Foreground}
}

func (c *Coordinator) SetAppState(ctx context.Context, state AppState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.applyLocked(ctx)
}

func (c *Coordinator) Mount(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounts++
	c.applyLocked(ctx)
}

// Unmount is a no-op when nothing is mounted.
func (c *Coordinator) Unmount(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounts == 0 {
		return
	}
	c.mounts--
	c.applyLocked(ctx)
}

// Present reports the state last requested from the tracker.
func (c *Coordinator) Present() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.present
}

func (c *Coordinator) AppState() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) applyLocked(ctx context.Context) {
	want := c.mounts > 0 && c.state == Foreground
	if want == c.present {
		return
	}
	c.present = want
	if want {
		c.presence.Acquire(ctx)
	} else {
		c.presence.Release(ctx)
	}
}
