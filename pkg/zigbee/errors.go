package zigbee

import "errors"

// Error taxonomy for the Network Manager. Lifecycle and configuration errors
// are returned synchronously; request/response errors are delivered via the
// pending request's CommandResult instead (see correlator.go).
var (
	// ErrInvalidState indicates the operation is not legal in the manager's
	// current lifecycle state.
	ErrInvalidState = errors.New("zigbee: invalid state for operation")

	// ErrInvalidArgument indicates a channel/PAN id/extended PAN id/security
	// key setter was given an out-of-range value.
	ErrInvalidArgument = errors.New("zigbee: invalid argument")

	// ErrCodec indicates serializer/deserializer construction failed or wire
	// bytes were malformed.
	ErrCodec = errors.New("zigbee: codec error")

	// ErrTransport indicates the transport reported a send failure.
	ErrTransport = errors.New("zigbee: transport error")

	// ErrTimeout indicates no matching response arrived within the
	// correlator's expiry bound. Surfaced through CommandResult.IsEmpty,
	// not normally returned directly.
	ErrTimeout = errors.New("zigbee: timeout")

	// ErrUnknownCommand indicates an inbound frame referenced an
	// unrecognized profile, cluster, or command id.
	ErrUnknownCommand = errors.New("zigbee: unknown command")

	// ErrNotImplemented is returned by stubs not yet wired to a wire format
	// (bind/unbind; see DESIGN.md Open Question (b)).
	ErrNotImplemented = errors.New("zigbee: not implemented")

	// ErrValidation indicates a proposed attribute write value failed
	// schema validation.
	ErrValidation = errors.New("zigbee: validation error")
)
