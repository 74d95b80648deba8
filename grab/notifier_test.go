package grab

import (
	"testing"
	"time"
)

func TestNotifierDeliversInOrderWithoutBlocking(t *testing.T) {
	n := NewNotifier()
	// no consumer yet: Send must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			n.Send(ReachedPage{PageEvent{}})
		}
		n.Send(AllProcessed{})
		n.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Send blocked without a consumer")
	}

	var got []Event
	n.Deliver(ObserverFunc(func(e Event) { got = append(got, e) }))
	if len(got) != 1001 {
		t.Fatalf("expected 1001 events, got %d", len(got))
	}
	if _, ok := got[len(got)-1].(AllProcessed); !ok {
		t.Fatalf("last event should be AllProcessed, got %T", got[len(got)-1])
	}
}

func TestNotifierDropsAfterClose(t *testing.T) {
	n := NewNotifier()
	n.Close()
	n.Send(ReachedPage{})
	count := 0
	for range n.Events() {
		count++
	}
	if count != 0 {
		t.Fatalf("expected no events after close, got %d", count)
	}
}
