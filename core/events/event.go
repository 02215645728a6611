package events

import (
	"sync"

	"nhbmarket/core/types"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a generic attribute record.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder is an append-only in-memory emitter. The daemon exposes its
// contents to the indexer and tests use it to assert emitted records.
type Recorder struct {
	mu      sync.RWMutex
	events  []*types.Event
	subs    map[int]chan *types.Event
	nextSub int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit implements the Emitter interface. Events without a payload are recorded
// with their type only.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	var record *types.Event
	if p, ok := evt.(Payload); ok && p.Event() != nil {
		record = p.Event().Clone()
	} else {
		record = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}
	r.mu.Lock()
	r.events = append(r.events, record)
	for _, ch := range r.subs {
		// Slow subscribers miss live records and catch up through Since.
		select {
		case ch <- record.Clone():
		default:
		}
	}
	r.mu.Unlock()
}

// Subscribe registers a live feed of recorded events. The returned offset is
// the number of events recorded before the subscription started, so callers
// can replay the backlog with Since without gaps. The cancel function closes
// the channel.
func (r *Recorder) Subscribe(buffer int) (<-chan *types.Event, int, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
	r.mu.Lock()
	if r.subs == nil {
		r.subs = make(map[int]chan *types.Event)
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	offset := len(r.events)
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, offset, cancel
}

// Events returns a copy of all recorded events in emission order.
func (r *Recorder) Events() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Event, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Clone()
	}
	return out
}

// Since returns events recorded at or after the given offset along with the
// next offset, allowing pollers to resume where they stopped.
func (r *Recorder) Since(offset int) ([]*types.Event, int) {
	if r == nil {
		return nil, 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(r.events) {
		return nil, len(r.events)
	}
	out := make([]*types.Event, 0, len(r.events)-offset)
	for _, evt := range r.events[offset:] {
		out = append(out, evt.Clone())
	}
	return out, len(r.events)
}

// Len reports how many events were recorded.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Fanout forwards every event to each emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
