package zigbee

import "testing"

func TestSetChannelValidRange(t *testing.T) {
	for ch := 0; ch <= 255; ch++ {
		l := newLifecycle()
		l.state = StateInitialized
		err := l.SetChannel(uint8(ch))
		want := ch >= int(minChannel) && ch <= int(maxChannel)
		got := err == nil
		if got != want {
			t.Errorf("channel %d: got accepted=%v, want %v (err=%v)", ch, got, want, err)
		}
	}
}

func TestSetChannelWrongState(t *testing.T) {
	l := newLifecycle() // StateUninitialized
	if err := l.SetChannel(15); err == nil {
		t.Fatal("expected error setting channel outside Initialized")
	}
}

func TestSetPANIDRange(t *testing.T) {
	cases := []struct {
		id   uint16
		want bool
	}{
		{0x0000, true},
		{0x1234, true},
		{0x3FFF, true},
		{0x4000, false},
		{0x8000, false},
		{0xFFFE, false},
		{0xFFFF, true}, // "transport chooses"
	}
	for _, c := range cases {
		l := newLifecycle()
		l.state = StateInitialized
		err := l.SetPANID(c.id)
		got := err == nil
		if got != c.want {
			t.Errorf("PAN id 0x%04X: got accepted=%v, want %v (err=%v)", c.id, got, c.want, err)
		}
	}
}

func TestLifecycleTransitionSequence(t *testing.T) {
	l := newLifecycle()
	sequence := []State{StateInitialized, StateStarting, StateRunning, StateShuttingDown, StateStopped}
	for _, next := range sequence {
		if err := l.transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if err := l.transition(StateInitialized); err == nil {
		t.Fatal("expected error transitioning out of terminal Stopped state")
	}
}

func TestLifecycleRejectsOutOfOrderTransition(t *testing.T) {
	l := newLifecycle()
	if err := l.transition(StateRunning); err == nil {
		t.Fatal("expected error skipping Initialized/Starting")
	}
}

func TestSetExtendedPANIDAcceptsZero(t *testing.T) {
	l := newLifecycle()
	l.state = StateInitialized
	if err := l.SetExtendedPANID(0); err != nil {
		t.Fatalf("expected zero extended PAN id to be accepted, got %v", err)
	}
}
