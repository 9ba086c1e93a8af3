package zigbee

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcherFireOrderIsPreserved(t *testing.T) {
	d := newDispatcher(testLogger())
	defer d.close()

	var mu sync.Mutex
	var seen []int
	d.OnNode(func(ev NodeEvent) {
		mu.Lock()
		seen = append(seen, int(ev.Node.NetworkAddress))
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		d.fireNode(NodeEvent{Kind: EventAdded, Node: Node{NetworkAddress: NetworkAddress(i)}})
	}
	waitForDispatcher(d)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 50 {
		t.Fatalf("expected 50 events delivered, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("event %d out of order: got network address %d", i, v)
		}
	}
}

func TestDispatcherListenerAddedMidDispatchSeesOnlyLaterEvents(t *testing.T) {
	d := newDispatcher(testLogger())
	defer d.close()

	var lateCount int
	var mu sync.Mutex

	d.OnNode(func(ev NodeEvent) {
		mu.Lock()
		defer mu.Unlock()
		// Register the second listener from inside the first's callback,
		// simulating a listener added mid-dispatch (spec §4.7/§8: the
		// snapshot taken at fire time must not include it).
		if ev.Node.NetworkAddress == 0 {
			d.OnNode(func(ev2 NodeEvent) { lateCount++ })
		}
	})

	d.fireNode(NodeEvent{Node: Node{NetworkAddress: 0}})
	waitForDispatcher(d)

	mu.Lock()
	got := lateCount
	mu.Unlock()
	if got != 0 {
		t.Fatalf("listener added mid-dispatch must not observe the in-flight event, got %d calls", got)
	}

	d.fireNode(NodeEvent{Node: Node{NetworkAddress: 1}})
	waitForDispatcher(d)

	mu.Lock()
	got = lateCount
	mu.Unlock()
	if got != 1 {
		t.Fatalf("listener added mid-dispatch should observe subsequent events, got %d calls", got)
	}
}

func TestDispatcherListenerRemovedMidDispatchSeesNoMoreEvents(t *testing.T) {
	d := newDispatcher(testLogger())
	defer d.close()

	var count int
	var mu sync.Mutex
	var unsubscribe func()
	unsubscribe = d.OnNode(func(ev NodeEvent) {
		mu.Lock()
		count++
		mu.Unlock()
		unsubscribe()
	})

	d.fireNode(NodeEvent{Node: Node{NetworkAddress: 0}})
	waitForDispatcher(d)

	d.fireNode(NodeEvent{Node: Node{NetworkAddress: 1}})
	d.fireNode(NodeEvent{Node: Node{NetworkAddress: 2}})
	waitForDispatcher(d)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected the removed listener to have fired exactly once, got %d", count)
	}
}

func TestDispatcherIsolatesPanickingListener(t *testing.T) {
	d := newDispatcher(testLogger())
	defer d.close()

	var secondCalled bool
	var mu sync.Mutex

	d.OnNode(func(ev NodeEvent) { panic("boom") })
	d.OnNode(func(ev NodeEvent) {
		mu.Lock()
		secondCalled = true
		mu.Unlock()
	})

	d.fireNode(NodeEvent{})
	waitForDispatcher(d)

	mu.Lock()
	defer mu.Unlock()
	if !secondCalled {
		t.Fatal("a panicking listener must not prevent delivery to the next listener")
	}
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	d := newDispatcher(testLogger())
	defer d.close()

	block := make(chan struct{})
	d.OnNode(func(ev NodeEvent) { <-block })

	fireDone := make(chan struct{})
	go func() {
		d.fireNode(NodeEvent{})
		close(fireDone)
	}()

	select {
	case <-fireDone:
	case <-time.After(time.Second):
		t.Fatal("fireNode must return immediately without waiting for the listener to run")
	}
	close(block)
}
