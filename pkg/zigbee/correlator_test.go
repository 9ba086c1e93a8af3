package zigbee

import (
	"context"
	"testing"
	"time"
)

func TestCorrelatorDeliverMatchesRegisteredRequest(t *testing.T) {
	c := newCorrelator(testLogger())
	defer c.close()

	_, result := c.register(func(cmd Command) bool { return cmd.TransactionID == 7 })

	delivered := c.deliver(Command{TransactionID: 7})
	if !delivered {
		t.Fatal("expected deliver to report a match")
	}

	select {
	case r := <-result:
		if r.Command == nil || r.Command.TransactionID != 7 {
			t.Fatalf("expected matched command, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected result to resolve immediately on match")
	}
}

func TestCorrelatorDeliverIgnoresNonMatch(t *testing.T) {
	c := newCorrelator(testLogger())
	defer c.close()

	_, result := c.register(func(cmd Command) bool { return cmd.TransactionID == 7 })
	delivered := c.deliver(Command{TransactionID: 9})
	if delivered {
		t.Fatal("expected deliver to report no match for an unrelated command")
	}
	select {
	case r := <-result:
		t.Fatalf("expected no resolution yet, got %+v", r)
	default:
	}
}

func TestCorrelatorCancelResolvesWithError(t *testing.T) {
	c := newCorrelator(testLogger())
	defer c.close()

	id, result := c.register(func(Command) bool { return false })
	c.cancel(id, ErrTransport)

	select {
	case r := <-result:
		if r.Err != ErrTransport {
			t.Fatalf("expected cancel error to surface, got %v", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected cancel to resolve immediately")
	}
}

func TestCorrelatorSweepExpiresPastDeadline(t *testing.T) {
	c := newCorrelator(testLogger())
	defer c.close()

	_, result := c.register(func(Command) bool { return false })
	// Force immediate expiry instead of waiting the full 8s ceiling.
	c.sweep(time.Now().Add(requestTimeout + time.Second))

	select {
	case r := <-result:
		if !r.IsEmpty() {
			t.Fatalf("expected an empty CommandResult on expiry, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected sweep to resolve the expired request")
	}
}

func TestCorrelatorCloseResolvesOutstandingRequests(t *testing.T) {
	c := newCorrelator(testLogger())
	_, result := c.register(func(Command) bool { return false })
	c.close()

	select {
	case r := <-result:
		if !r.IsEmpty() {
			t.Fatalf("expected empty result on close, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected close to resolve outstanding requests")
	}
}

func TestWaitResultRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := waitResult(ctx, make(chan CommandResult))
	if r.Err == nil {
		t.Fatal("expected context cancellation error")
	}
}
