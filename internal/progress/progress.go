// Package progress fans out best-effort progress snapshots to whichever
// observers are subscribed. Nothing is queued or replayed for absent listeners.
package progress

import (
	"sync"
)

type Action string

const (
	ActionShow   Action = "show"
	ActionUpdate Action = "update"
	ActionHide   Action = "hide"
)

type Event struct {
	Action           Action `json:"action"`
	Current          int    `json:"current"`
	Total            int    `json:"total"`
	Message          string `json:"message"`
	CountdownSeconds *int   `json:"countdownSeconds,omitempty"`
	Icon             string `json:"icon,omitempty"`
}

// Countdown returns a pointer suitable for Event.CountdownSeconds.
func Countdown(seconds int) *int {
	return &seconds
}

// Publisher is what the scheduler needs from the reporter.
type Publisher interface {
	Publish(e Event)
}

// Broker is an in-process publish/subscribe hub.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with a buffer of size buf. The returned
// cancel func unregisters it and closes the channel.
func (b *Broker) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish never blocks. Subscribers whose buffer is full miss the event.
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs) == 0 {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
