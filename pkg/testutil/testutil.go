// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// QuietLogger returns a logger that discards its output.
func QuietLogger(component string) *logger.Logger {
	log := logger.NewDefault(component)
	log.SetOutput(io.Discard)
	return log
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Notifier records every event it receives and fails with Err when set.
type Notifier struct {
	mu     sync.Mutex
	events []score.Event
	Err    error
}

func (n *Notifier) Notify(_ context.Context, evt score.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.Err
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []score.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]score.Event, len(n.events))
	copy(out, n.events)
	return out
}
