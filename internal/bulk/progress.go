package bulk

import (
	"strings"
	"sync"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

// EventType distinguishes the progress events.
type EventType int

const (
	EventStarted EventType = iota
	EventProgress
	EventCompleted
	// EventNotice carries a run-level message (rate-limit waits); Repo is
	// zero-valued.
	EventNotice
)

// Event is one progress notification. For each repository the engine emits
// exactly one EventStarted, zero or more EventProgress, and exactly one
// EventCompleted, in that order. EventNotice may appear at any point.
type Event struct {
	Type        EventType
	Repo        provider.Repository
	Destination string
	// Phase is the current activity for EventProgress ("cloning", "pulling").
	Phase string
	// Outcome and Reason are set on EventCompleted. Reason also carries the
	// message of an EventNotice.
	Outcome Outcome
	Reason  string
}

func (e Event) key() string {
	return strings.ToLower(strings.Join([]string{
		string(e.Repo.Provider), e.Repo.Account, e.Repo.Organization, e.Repo.Project, e.Repo.Name,
	}, "/"))
}

// Reporter fans engine events out to a single consumer channel without ever
// blocking the workers. When the consumer is slow, EventProgress events
// coalesce per repository (latest wins); EventStarted and EventCompleted are
// always queued.
type Reporter struct {
	mu      sync.Mutex
	queue   []*Event
	pending map[string]*Event
	closed  bool

	out  chan Event
	wake chan struct{}
}

// NewReporter creates a reporter and starts its delivery goroutine. The
// consumer must drain Events() until it closes.
func NewReporter() *Reporter {
	r := &Reporter{
		pending: make(map[string]*Event),
		out:     make(chan Event),
		wake:    make(chan struct{}, 1),
	}
	go r.pump()
	return r
}

// Events returns the consumer channel. It is closed after Close() once every
// queued event has been delivered.
func (r *Reporter) Events() <-chan Event { return r.out }

// Notice queues a run-level message for the consumer. Notices are never
// coalesced or dropped while the reporter is open.
func (r *Reporter) Notice(message string) {
	r.publish(Event{Type: EventNotice, Reason: message})
}

// publish enqueues an event. Never blocks.
func (r *Reporter) publish(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if ev.Type == EventProgress {
		if queued, ok := r.pending[ev.key()]; ok {
			*queued = ev
			r.mu.Unlock()
			return
		}
		queued := &ev
		r.pending[ev.key()] = queued
		r.queue = append(r.queue, queued)
	} else {
		queued := &ev
		r.queue = append(r.queue, queued)
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close stops the reporter. Queued events are still delivered before the
// consumer channel closes.
func (r *Reporter) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reporter) pump() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				close(r.out)
				return
			}
			<-r.wake
			continue
		}
		next := r.queue[0]
		r.queue = r.queue[1:]
		if r.pending[next.key()] == next {
			delete(r.pending, next.key())
		}
		ev := *next
		r.mu.Unlock()

		// Back-pressure lands here, on the delivery goroutine, never on a
		// worker.
		r.out <- ev
	}
}
