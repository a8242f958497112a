// Package connectivity produces the online/offline signal the sync scheduler
// reacts to.
package connectivity

import (
	"sync"
	"time"
)

// Event is one connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

// Source emits connectivity transitions. Only the latest undelivered state is
// kept, so a slow reader sees the current state rather than a backlog.
type Source interface {
	Events() <-chan Event
}

// latest is a single-slot channel that always holds the newest event.
type latest struct {
	mu sync.Mutex
	ch chan Event
}

func newLatest() *latest {
	return &latest{ch: make(chan Event, 1)}
}

func (l *latest) publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		select {
		case l.ch <- ev:
			return
		default:
			select {
			case <-l.ch:
			default:
			}
		}
	}
}

// Switch is a manually driven Source, for the CLI and tests.
type Switch struct {
	mu     sync.Mutex
	online bool
	out    *latest
}

// NewSwitch returns a Switch that has already announced initial.
func NewSwitch(initial bool) *Switch {
	s := &Switch{online: initial, out: newLatest()}
	s.out.publish(Event{Online: initial, At: time.Now()})
	return s
}

// Events implements Source.
func (s *Switch) Events() <-chan Event {
	return s.out.ch
}

// Set changes the state, emitting an event only on a transition.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	s.out.publish(Event{Online: online, At: time.Now()})
}

// Online returns the current state.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}
