// Package conntest provides a recording types.Conn for tests.
package conntest

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("recorder closed")

// Emitted is one event sent to a Recorder.
type Emitted struct {
	Event string
	Data  interface{}
}

// Recorder is a types.Conn that keeps everything emitted to it. A closed Recorder behaves like a stale connection.
type Recorder struct {
	id string

	mu      sync.Mutex
	emitted []Emitted
	closed  bool
}

func New(id string) *Recorder {
	return &Recorder{id: id}
}

func (r *Recorder) Id() string {
	return r.id
}

func (r *Recorder) Emit(event string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.emitted = append(r.emitted, Emitted{Event: event, Data: data})
	return nil
}

func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Emitted returns a copy of everything received so far.
func (r *Recorder) Emitted() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.emitted...)
}

// Events returns the names of the received events in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.emitted))
	for _, e := range r.emitted {
		names = append(names, e.Event)
	}
	return names
}

// Count returns how often event was received.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.emitted {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Last returns the payload of the most recent event with the given name.
func (r *Recorder) Last(event string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.emitted) - 1; i >= 0; i-- {
		if r.emitted[i].Event == event {
			return r.emitted[i].Data, true
		}
	}
	return nil, false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.emitted = nil
	r.mu.Unlock()
}
