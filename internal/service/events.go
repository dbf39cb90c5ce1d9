package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventJobCreated     EventType = "job.created"
	EventAttemptStarted EventType = "attempt.started"
	EventAttemptFailed  EventType = "attempt.failed"
	EventJobPublished   EventType = "job.published"
	EventJobFailed      EventType = "job.failed"
	EventJobCancelled   EventType = "job.cancelled"
)

// Event is a job lifecycle notification. Observers must not mutate jobs.
type Event struct {
	Type         EventType
	JobID        string
	UserID       int64
	Platform     string
	Attempt      int
	Delay        time.Duration
	Error        string
	PublishedURL string
	At           time.Time
}

type EventEmitter interface {
	Emit(e Event)
}

type Observer interface {
	Observe(ctx context.Context, e Event)
}

// EventBus fans events out to observers on a single goroutine so a slow
// observer never blocks job processing. Events are dropped when the buffer is full.
type EventBus struct {
	observers []Observer
	events    chan Event
	done      chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewEventBus(buffer int, observers ...Observer) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{
		observers: observers,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

func (b *EventBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	go b.run()
}

func (b *EventBus) run() {
	defer close(b.done)
	for e := range b.events {
		for _, o := range b.observers {
			b.deliver(o, e)
		}
	}
}

func (b *EventBus) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event observer panicked", "event", e.Type, "job_id", e.JobID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.Observe(ctx, e)
}

func (b *EventBus) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- e:
	default:
		slog.Warn("event buffer full, dropping event", "event", e.Type, "job_id", e.JobID)
	}
}

// Close stops accepting events and waits until buffered ones are delivered.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	started := b.started
	close(b.events)
	b.mu.Unlock()

	if started {
		<-b.done
	}
}
