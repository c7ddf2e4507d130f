package pipeline

import (
	"sync"

	"ocrd/pkg/types"
)

// Event is one asynchronous report from an in-flight run: progress
// lines while it executes, then exactly one terminal result event.
type Event struct {
	Type    string // "log" or "result"
	Message string
	Result  *types.RunResult
}

// Publisher receives events from the pipeline. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{done: make(chan struct{}, 1)}
}

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	if e.Type == "result" {
		select {
		case p.done <- struct{}{}:
		default:
		}
	}
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Done receives once a terminal result has been published.
func (p *MemoryPublisher) Done() <-chan struct{} { return p.done }

// Result returns the terminal result, if published.
func (p *MemoryPublisher) Result() (*types.RunResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == "result" {
			return e.Result, true
		}
	}
	return nil, false
}
