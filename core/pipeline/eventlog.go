package pipeline

import (
	"sync"

	"github.com/kilianp07/depotsched/core/model"
)

// DefaultEventLogCapacity is the number of transitions kept in memory.
const DefaultEventLogCapacity = 200

// EventLog is a fixed-size ring of the most recent transitions.
type EventLog struct {
	mu    sync.Mutex
	buf   []model.TransitionEvent
	next  int
	count int
}

// NewEventLog creates a log holding at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{buf: make([]model.TransitionEvent, capacity)}
}

// Append records ev, evicting the oldest event when full.
func (l *EventLog) Append(ev model.TransitionEvent) {
	l.mu.Lock()
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (l *EventLog) Recent(limit int) []model.TransitionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.TransitionEvent, 0, n)
	idx := l.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}
