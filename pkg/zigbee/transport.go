package zigbee

import "context"

// Transport is the consumer contract a radio driver must implement to back
// a Manager (spec §6). The core never assumes EZSP, ASH, or any particular
// serial framing; it only needs to move APS frames and be told to join or
// form a network.
type Transport interface {
	// Open establishes the underlying link (e.g. opens the serial port and
	// negotiates the host/NCP protocol version) and begins delivering
	// inbound frames to the Receiver passed to SetReceiver.
	Open(ctx context.Context) error

	// Close tears down the link. Open is never called again on the same
	// Transport after Close.
	Close() error

	// Send transmits one outbound APS frame. Send must not block waiting
	// for an application-layer response; it only reports transport-level
	// failure (e.g. the NCP rejected or could not queue the frame).
	Send(ctx context.Context, frame APSFrame) error

	// FormNetwork instructs the radio to form (or join, if already
	// commissioned) the network described by cfg.
	FormNetwork(ctx context.Context, cfg NetworkConfig) error

	// PermitJoining instructs the radio to open or close the network to new
	// joiners for the given duration in seconds (0 closes immediately).
	PermitJoining(ctx context.Context, duration uint8) error

	// SetReceiver installs the callback the transport uses to deliver
	// inbound APS frames. Called once, before Open.
	SetReceiver(r Receiver)
}

// Receiver is the inbound half of the Transport contract: a transport
// delivers every frame it receives from the radio to this callback (spec
// §6). Implementations must not block for long; the frame pipeline queues
// its own dispatch.
type Receiver interface {
	ReceiveFrame(frame APSFrame)
}

// ReceiverFunc adapts a plain function to the Receiver interface.
type ReceiverFunc func(APSFrame)

func (f ReceiverFunc) ReceiveFrame(frame APSFrame) { f(frame) }
