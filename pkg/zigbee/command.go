package zigbee

import "time"

// ProfileID identifies the application profile carried in an APS frame
// (spec §6). ZDO and Home Automation are well-known.
type ProfileID uint16

const (
	ProfileZDO ProfileID = 0x0000
	ProfileHA  ProfileID = 0x0104
)

// ClusterID identifies a ZCL cluster, or — for profile 0x0000 — a ZDO
// command type (spec §4.4).
type ClusterID uint16

// Direction is the ZCL client/server direction bit (spec §6).
type Direction uint8

const (
	DirectionClientToServer Direction = iota
	DirectionServerToClient
)

// FrameType is the ZCL frame-control frame-type field (spec §4.3, §6).
type FrameType uint8

const (
	FrameTypeEntireProfile    FrameType = iota // generic/global ZCL command
	FrameTypeClusterSpecific                   // cluster-specific ZCL command
)

// Kind distinguishes a ZDO management command from a ZCL command, driving
// the profile-id and header-building branch in the outbound pipeline (spec
// §4.3 step 4).
type Kind uint8

const (
	KindZDO Kind = iota
	KindZCL
)

// Command is the high-level, transient representation of one request or
// response, built by callers and the inbound pipeline alike (spec §3).
type Command struct {
	Kind      Kind
	ClusterID ClusterID

	// TransactionID is assigned by the outbound pipeline (ZCL sequence
	// number / ZDO transaction sequence) and copied onto inbound commands
	// from the wire header (spec §4.3 step 1, §4.4 step 2).
	TransactionID uint8

	// Source and Destination are endpoint-qualified addresses. Source is
	// set by the inbound pipeline from the APS frame; Destination is set by
	// the caller before send.
	Source      Address
	Destination Address

	// Generic marks a ZCL command as using the ENTIRE_PROFILE_COMMAND frame
	// type (global commands such as Read/Write Attributes) as opposed to a
	// CLUSTER_SPECIFIC_COMMAND. Ignored for ZDO commands.
	Generic bool

	// CommandID is the ZCL command id (global or cluster-specific) or the
	// ZDO command's own identifying field; for ZDO, ClusterID already
	// carries the command type (spec §4.4), so CommandID is typically 0 for
	// ZDO commands constructed by convenience.go.
	CommandID uint8

	// Direction is the ZCL client<->server direction (ignored for ZDO).
	Direction Direction

	// Payload is the command-specific body, already encoded to or decoded
	// from bytes by the zcl/zdo catalogue (spec §4.2).
	Payload []byte
}

// APSFrame is the wire representation of one Application Support Sublayer
// frame (spec §6). The codec and frame pipeline populate/consume these
// fields; the transport only moves opaque Payload bytes plus this header.
type APSFrame struct {
	ProfileID   ProfileID
	ClusterID   ClusterID
	SourceAddr  NetworkAddress
	SourceEP    Endpoint
	DestAddr    NetworkAddress
	DestEP      Endpoint
	APSCounter  uint8
	Sequence    uint8
	Radius      uint8
	AddressMode AddressMode
	GroupID     GroupID
	Payload     []byte
}

// ZCLHeader is the frame-control octet plus sequence/command-id fields
// embedded at the start of an APS payload for profile 0x0104 (spec §6).
type ZCLHeader struct {
	FrameType            FrameType
	Direction            Direction
	ManufacturerSpecific bool
	DisableDefaultResp   bool
	ManufacturerCode     uint16
	SequenceNumber       uint8
	CommandID            uint8
}

// apsRadius is the default hop-count radius used for outbound frames (spec
// §4.3 step 2).
const apsRadius = 31

// broadcastMarker is a placeholder type for a broadcast response sentinel;
// nothing constructs it, and Manager.broadcast reports only an error.
type broadcastMarker struct{}

// CommandResult is the value a pending request's future resolves to (spec
// §3, §4.5). An empty CommandResult (IsEmpty() true) means "no response"
// (timeout); a CommandResult carrying an error means the transport failed
// the send; otherwise Command holds the matched inbound command. Broadcast
// is counted by IsEmpty but is not set anywhere: broadcasts register no
// pending request and produce no CommandResult.
type CommandResult struct {
	Command   *Command
	Err       error
	Broadcast bool
	at        time.Time
}

// IsEmpty reports whether this result carries no response (the "no
// response" / timeout case, spec §7 ErrTimeout).
func (r CommandResult) IsEmpty() bool {
	return r.Command == nil && r.Err == nil && !r.Broadcast
}
