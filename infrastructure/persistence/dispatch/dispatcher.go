// Package dispatch fans appended events out to store subscribers. Every
// event store implementation shares this delivery behavior.
package dispatch

import (
	"sync"

	"graphsync/application/ports"
	"graphsync/domain/events"
)

type subscription struct {
	id      int
	types   map[string]struct{}
	handler ports.EventHandler
}

// Dispatcher queues published events and delivers them to subscribers from a
// single goroutine. Publishing never blocks, handlers never run concurrently
// with each other, and a handler may publish more events.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []events.Envelope
	subs   map[int]*subscription
	nextID int
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		subs: make(map[int]*subscription),
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// Subscribe registers a handler for the given event types. Empty types
// matches everything.
func (d *Dispatcher) Subscribe(types []string, handler ports.EventHandler) ports.UnsubscribeFunc {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub := &subscription{id: d.nextID, handler: handler}
	d.nextID++
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	d.subs[sub.id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, sub.id)
			d.mu.Unlock()
		})
	}
}

// Publish enqueues an event for delivery. Events published after Close are
// dropped.
func (d *Dispatcher) Publish(envelope events.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.queue = append(d.queue, envelope)
	d.cond.Broadcast()
}

// WaitIdle blocks until every queued event has been delivered
func (d *Dispatcher) WaitIdle() {
	d.mu.Lock()
	for len(d.queue) > 0 && !d.closed {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// Close drains the queue and stops delivery. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		envelope := d.queue[0]
		handlers := make([]ports.EventHandler, 0, len(d.subs))
		for _, sub := range d.subs {
			if sub.types != nil {
				if _, ok := sub.types[envelope.EventType]; !ok {
					continue
				}
			}
			handlers = append(handlers, sub.handler)
		}
		d.mu.Unlock()

		for _, handler := range handlers {
			handler(envelope)
		}

		d.mu.Lock()
		d.queue = d.queue[1:]
		if len(d.queue) == 0 {
			d.cond.Broadcast()
		}
		d.mu.Unlock()
	}
}
