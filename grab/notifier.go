package grab

import "sync"

// Sink receives events from the worker.
type Sink interface {
	Send(Event)
}

// Observer consumes events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Notifier is a Sink that queues without bound, so Send never blocks the
// worker, and delivers events in order on a channel.
type Notifier struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
}

// NewNotifier starts the delivery goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{wake: make(chan struct{}, 1), out: make(chan Event)}
	go n.pump()
	return n
}

// Send queues e. Events sent after Close are dropped.
func (n *Notifier) Send(e Event) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, e)
	n.mu.Unlock()
	n.signal()
}

// Close stops accepting events. Queued events are still delivered, then
// the channel is closed.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

// Events is the delivery channel.
func (n *Notifier) Events() <-chan Event { return n.out }

// Deliver hands every event to obs until the notifier is closed and drained.
func (n *Notifier) Deliver(obs Observer) {
	for e := range n.out {
		obs.Observe(e)
	}
}

func (n *Notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) pump() {
	defer close(n.out)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, e := range batch {
			n.out <- e
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-n.wake
		}
	}
}
