package notify

import (
	"context"
	"sync"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
)

// Filter selects events by content.
type Filter func(score.Event) bool

// OwnerFilter matches events for one owner.
func OwnerFilter(owner score.Owner) Filter {
	return func(evt score.Event) bool { return evt.Owner == owner }
}

// Log is a thread-safe ring buffer of recent events. The Hub replays from
// it on reconnect and the HTTP API serves it to polling clients.
type Log struct {
	mu     sync.RWMutex
	events []score.Event
	size   int
	head   int
	count  int
}

var _ Notifier = (*Log)(nil)

// NewLog creates a ring buffer holding up to size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 1000
	}
	return &Log{
		events: make([]score.Event, size),
		size:   size,
	}
}

// Notify records evt, evicting the oldest event when full.
func (l *Log) Notify(_ context.Context, evt score.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.head] = evt
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}
	return nil
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []score.Event {
	return l.collect(n, nil)
}

// RecentByOwner returns up to n events for owner, newest first.
func (l *Log) RecentByOwner(owner score.Owner, n int) []score.Event {
	return l.collect(n, OwnerFilter(owner))
}

// Since returns retained events with a sequence above seq, oldest first.
func (l *Log) Since(seq uint64, filter Filter) []score.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []score.Event
	for i := l.count - 1; i >= 0; i-- {
		evt := l.events[(l.head-1-i+l.size)%l.size]
		if evt.Sequence > seq && (filter == nil || filter(evt)) {
			result = append(result, evt)
		}
	}
	return result
}

func (l *Log) collect(n int, filter Filter) []score.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	var result []score.Event
	for i := 0; i < l.count && len(result) < n; i++ {
		evt := l.events[(l.head-1-i+l.size)%l.size]
		if filter == nil || filter(evt) {
			result = append(result, evt)
		}
	}
	return result
}

// Count returns the number of retained events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
