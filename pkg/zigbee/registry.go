package zigbee

import "fmt"

// RegistryKey is the compile-time lookup key for one command definition:
// (cluster, command id, direction). Profile selects which Registry is
// consulted in the first place (ZDO vs ZCL), so it is not part of the key
// itself (spec §9 design note: "explicit compile-time command registry
// keyed by (profile, cluster, commandID, direction), replacing
// reflection-based instantiation").
type RegistryKey struct {
	ClusterID ClusterID
	CommandID uint8
	Direction Direction

	// Generic marks a ZCL global command (Read/Write Attributes and
	// friends), whose command id namespace is shared across every cluster
	// rather than being cluster-specific (spec §4.3 step 4). Always false
	// for ZDO keys, which have no such distinction.
	Generic bool
}

// Registry encodes and decodes command payloads for one profile's command
// set (ZDO or ZCL). Concrete registries (pkg/zigbee/zdo, pkg/zigbee/zcl)
// are built as static maps from RegistryKey to codec functions and
// injected into the Manager at construction, so adding a command never
// touches the frame pipeline.
type Registry interface {
	// Encode serializes cmd, building the body from cmd.Payload and adding
	// the profile's wire prefix (ZCL header or ZDO transaction sequence);
	// the returned bytes become the outbound APS frame's Payload.
	Encode(cmd Command) ([]byte, error)

	// Decode parses payload for the given cluster/command/direction into a
	// Command's Kind-specific fields (CommandID, Generic, Payload, and any
	// catalogue-specific interpretation is left to the caller via the
	// returned Command's Payload).
	Decode(key RegistryKey, payload []byte) (Command, error)
}

// ErrUnregisteredCommand is wrapped into the error a Registry returns when
// asked to encode or decode a command outside its static map.
var ErrUnregisteredCommand = fmt.Errorf("%w: command not in registry", ErrUnknownCommand)
