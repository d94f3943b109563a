// Package notify fans verified-result events out to subscribers: an
// in-process log with replay, Redis pub/sub, and WebSocket clients.
// Delivery is best-effort; the store write is authoritative.
package notify

import (
	"context"
	"errors"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
)

// Notifier emits one event to its subscribers.
type Notifier interface {
	Notify(ctx context.Context, evt score.Event) error
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, evt score.Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt score.Event) error {
	return f(ctx, evt)
}

// Multi delivers to every notifier, in order, even when an earlier one fails.
// The returned error joins all failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt score.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, score.Event) error { return nil })
