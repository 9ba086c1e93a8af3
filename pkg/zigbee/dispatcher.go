package zigbee

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventKind distinguishes the three outcomes a mesh-model mutation can
// produce (spec §4.6, §4.7).
type EventKind uint8

const (
	EventAdded EventKind = iota
	EventUpdated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NodeEvent is delivered to node listeners on every node mutation.
type NodeEvent struct {
	Kind EventKind
	Node Node
}

// DeviceEvent is delivered to device listeners on every device mutation.
type DeviceEvent struct {
	Kind   EventKind
	Device Device
}

// StateEvent is delivered to state listeners when a device's reported
// attribute state changes (spec §4.7).
type StateEvent struct {
	Device    DeviceAddress
	ClusterID ClusterID
	Attribute uint16
	Value     []byte
}

// AnnounceEvent is delivered when a device announces or rejoins the network
// (ZDO End Device Announce, spec §4.7, §4.8).
type AnnounceEvent struct {
	NetworkAddress NetworkAddress
	IEEEAddress    IEEEAddress
	Capability     uint8
}

// CommandEvent is delivered for every inbound command the frame pipeline
// accepts, matched or not (spec §4.7) — the catch-all listener category for
// observers that want raw traffic.
type CommandEvent struct {
	Command Command
}

// NodeListener, DeviceListener, StateListener, AnnounceListener, and
// CommandListener are the five listener categories spec §4.7 requires.
// Listener invocation never holds the owning lock (spec §4.6, §9): each
// category is backed by a copy-on-write slice swapped under a short lock,
// then iterated over the unlocked snapshot.
type NodeListener func(NodeEvent)
type DeviceListener func(DeviceEvent)
type StateListener func(StateEvent)
type AnnounceListener func(AnnounceEvent)
type CommandListener func(CommandEvent)

// listenerList[T] is a copy-on-write slice of listener funcs, generalized
// from the teacher's subscribers []chan device.DiscoveryEvent plus
// subscribersMu fan-out in pkg/zigbee/controller.go (urmzd-homai), adapted
// from channel subscribers to direct callback listeners and from a single
// list to five independently-typed categories. Entries carry an id so a
// listener can be deregistered later (spec §4.7 "registration and
// deregistration") — func values are not comparable in Go, so removal
// cannot key off the callback itself.
type listenerEntry[T any] struct {
	id int64
	fn T
}

type listenerList[T any] struct {
	mu        sync.Mutex
	nextID    int64
	listeners []listenerEntry[T]
}

// add appends fn under a fresh id and returns an unsubscribe func that
// removes it via the same copy-on-write replacement.
func (l *listenerList[T]) add(fn T) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	next := make([]listenerEntry[T], len(l.listeners)+1)
	copy(next, l.listeners)
	next[len(l.listeners)] = listenerEntry[T]{id: id, fn: fn}
	l.listeners = next
	l.mu.Unlock()
	return func() { l.remove(id) }
}

func (l *listenerList[T]) remove(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]listenerEntry[T], 0, len(l.listeners))
	for _, e := range l.listeners {
		if e.id != id {
			next = append(next, e)
		}
	}
	l.listeners = next
}

// snapshot returns a point-in-time copy of the registered callbacks.
func (l *listenerList[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.listeners))
	for i, e := range l.listeners {
		out[i] = e.fn
	}
	return out
}

// notificationQueueDepth bounds how many pending notification jobs the
// dispatcher will buffer before enqueue blocks the caller. Sized generously
// since a blocked enqueue would stall the inbound frame path, which spec §5
// forbids.
const notificationQueueDepth = 256

// Dispatcher fans mesh-model and frame-pipeline events out to registered
// listeners (spec §2 component 4, §4.7). Every fire* call enqueues a job onto
// a single dedicated notification goroutine instead of running listeners on
// the calling goroutine, so the inbound frame path and mesh-model mutations
// never block on listener code (spec §5: "the notification executor never
// holds any model lock while invoking user code"). The single worker
// preserves the arrival order of events fired from the same goroutine (spec
// §5: "command listeners observe them in that order").
type Dispatcher struct {
	logger zerolog.Logger

	nodes     listenerList[NodeListener]
	devices   listenerList[DeviceListener]
	states    listenerList[StateListener]
	announces listenerList[AnnounceListener]
	commands  listenerList[CommandListener]

	jobs     chan func()
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newDispatcher(logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		logger: logger.With().Str("component", "dispatcher").Logger(),
		jobs:   make(chan func(), notificationQueueDepth),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) log() *zerolog.Logger { return &d.logger }

// run is the dedicated notification executor (spec §4.7): it drains jobs in
// FIFO order until stopped, then drains whatever is already queued before
// exiting so a shutdown racing with an in-flight mutation does not silently
// drop its listener callbacks.
func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case job := <-d.jobs:
			job()
		case <-d.stopCh:
			for {
				select {
				case job := <-d.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) enqueue(job func()) {
	select {
	case d.jobs <- job:
	case <-d.stopCh:
	}
}

// safeCall isolates one listener callback's panic so it cannot stop delivery
// to the remaining listeners in the same snapshot (spec §7: "Listener
// callback exceptions are isolated by the notification executor").
func (d *Dispatcher) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("listener callback panicked")
		}
	}()
	fn()
}

// close stops the notification executor after draining any already-queued
// jobs.
func (d *Dispatcher) close() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

// OnNode registers a node listener and returns a func that deregisters it
// (spec §4.7).
func (d *Dispatcher) OnNode(fn NodeListener) func() { return d.nodes.add(fn) }

// OnDevice registers a device listener and returns a func that deregisters
// it.
func (d *Dispatcher) OnDevice(fn DeviceListener) func() { return d.devices.add(fn) }

// OnState registers a state listener and returns a func that deregisters
// it.
func (d *Dispatcher) OnState(fn StateListener) func() { return d.states.add(fn) }

// OnAnnounce registers an announce listener and returns a func that
// deregisters it.
func (d *Dispatcher) OnAnnounce(fn AnnounceListener) func() { return d.announces.add(fn) }

// OnCommand registers a command listener and returns a func that
// deregisters it.
func (d *Dispatcher) OnCommand(fn CommandListener) func() { return d.commands.add(fn) }

func (d *Dispatcher) fireNode(ev NodeEvent) {
	d.enqueue(func() {
		for _, fn := range d.nodes.snapshot() {
			d.safeCall(func() { fn(ev) })
		}
	})
}

func (d *Dispatcher) fireDevice(ev DeviceEvent) {
	d.enqueue(func() {
		for _, fn := range d.devices.snapshot() {
			d.safeCall(func() { fn(ev) })
		}
	})
}

func (d *Dispatcher) fireState(ev StateEvent) {
	d.enqueue(func() {
		for _, fn := range d.states.snapshot() {
			d.safeCall(func() { fn(ev) })
		}
	})
}

func (d *Dispatcher) fireAnnounce(ev AnnounceEvent) {
	d.enqueue(func() {
		for _, fn := range d.announces.snapshot() {
			d.safeCall(func() { fn(ev) })
		}
	})
}

func (d *Dispatcher) fireCommand(ev CommandEvent) {
	d.enqueue(func() {
		for _, fn := range d.commands.snapshot() {
			d.safeCall(func() { fn(ev) })
		}
	})
}
