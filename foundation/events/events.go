// Package events fans out node activity to any number of listeners, such
// as websocket clients watching the consensus engine.
package events

import (
	"fmt"
	"sync"
	"time"
)

// messageBuffer is the number of events a listener can fall behind before
// events are dropped for it. Websocket sends can take a while.
const messageBuffer = 100

// Event is a single message published by the node.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	mu  sync.RWMutex
	m   map[string]chan Event
	now func() time.Time
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m:   make(map[string]chan Event),
		now: time.Now,
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) <-chan Event {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	ch = make(chan Event, messageBuffer)
	evt.m[id] = ch
	return ch
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Count returns the number of registered listeners.
func (evt *Events) Count() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}

// Send formats the message and signals it to every registered channel.
// Send will not block waiting for a receiver on any given channel.
func (evt *Events) Send(v string, args ...any) {
	e := Event{
		Time:    evt.now().UTC(),
		Message: fmt.Sprintf(v, args...),
	}

	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- e:
		default:
		}
	}
}
