package zigbee

import (
	"context"
	"fmt"
)

// maxPermitDuration is the protocol-level ceiling for a permit-join
// duration in seconds; 0xFF means "permit indefinitely" and is passed
// through unclamped, anything else above 0xFE is clamped down to it.
const maxPermitDuration uint8 = 0xFF

func clampPermitDuration(duration uint8) uint8 {
	if duration > maxPermitDuration {
		return maxPermitDuration
	}
	return duration
}

// tcSignificanceTrue is the Mgmt_Permit_Joining_req TC_Significance octet:
// always set (spec §8 scenario 4, "tc-significance=true") since this stack
// always addresses the request to the trust center's own authority.
const tcSignificanceTrue uint8 = 0x01

// PermitJoinNetwork opens (duration > 0) or closes (duration == 0) the
// whole network to new joiners via a broadcast Management Permit Joining
// Request (spec §4.8).
func (m *Manager) PermitJoinNetwork(ctx context.Context, duration uint8) error {
	duration = clampPermitDuration(duration)
	cmd := &Command{
		Kind:        KindZDO,
		ClusterID:   ZDOPermitJoiningRequest,
		Destination: NewDeviceAddress(NetworkAddress(BroadcastRoutersAndCoordinator), 0),
		Payload:     []byte{duration, tcSignificanceTrue},
	}
	return m.broadcast(ctx, cmd)
}

// PermitJoinDevice opens or closes joining on a single router/coordinator
// identified by dest (spec §4.8), waiting for its Management Permit
// Joining Response.
func (m *Manager) PermitJoinDevice(ctx context.Context, dest DeviceAddress, duration uint8) error {
	duration = clampPermitDuration(duration)
	cmd := &Command{
		Kind:        KindZDO,
		ClusterID:   ZDOPermitJoiningRequest,
		Destination: NewDeviceAddress(dest.NetworkAddress, dest.Endpoint),
		Payload:     []byte{duration, tcSignificanceTrue},
	}
	matcher := zdoResponseMatcher(ZDOPermitJoiningResponse, cmd)
	_, err := m.send(ctx, cmd, matcher)
	return err
}

// Leave removes a device from the network (spec §4.8): a ZDO Leave Request
// sent to the device's parent, naming the device's own IEEE address as the
// leaving device (or the zero address to mean "the request's recipient
// itself", per the ZDO convention).
func (m *Manager) Leave(ctx context.Context, parentNetworkAddress NetworkAddress, endDeviceIEEE IEEEAddress) error {
	w := NewWriter()
	w.PutIEEEAddress(endDeviceIEEE)
	w.PutUint8(0x00) // remove-children / rejoin flags: none set
	cmd := &Command{
		Kind:        KindZDO,
		ClusterID:   ZDOLeaveRequest,
		Destination: NewDeviceAddress(parentNetworkAddress, 0),
		Payload:     w.Bytes(),
	}
	matcher := zdoResponseMatcher(ZDOLeaveResponse, cmd)
	_, err := m.send(ctx, cmd, matcher)
	if err != nil {
		return err
	}
	m.removeLeftDevice(endDeviceIEEE)
	return nil
}

// removeLeftDevice removes every mesh entry for the device that just left
// the network, identified by its IEEE address rather than the parent's
// network address the Leave Request was sent to (spec §3: nodes/devices are
// "removed by ... a ZDO Leave confirmation", referring to the device that
// left, not its parent). A node may expose more than one endpoint, so every
// device record sharing the IEEE address is removed along with the node.
func (m *Manager) removeLeftDevice(ieee IEEEAddress) {
	for _, d := range m.mesh.Devices() {
		if d.IEEEAddress == ieee {
			m.mesh.RemoveDevice(d.Address)
		}
	}
	for _, n := range m.mesh.Nodes() {
		if n.IEEEAddress == ieee {
			m.mesh.RemoveNode(n.NetworkAddress)
			break
		}
	}
}

// Read issues a ZCL Read Attributes request for a single attribute and
// returns its raw reported value (spec §4.8).
func (m *Manager) Read(ctx context.Context, dest DeviceAddress, cluster ClusterID, attribute uint16) ([]byte, error) {
	w := NewWriter()
	w.PutUint16(attribute)
	cmd := &Command{
		Kind:        KindZCL,
		ClusterID:   cluster,
		Generic:     true,
		CommandID:   ZCLCommandReadAttributes,
		Direction:   DirectionClientToServer,
		Destination: NewDeviceAddress(dest.NetworkAddress, dest.Endpoint),
		Payload:     w.Bytes(),
	}
	matcher := func(reply Command) bool {
		return reply.Kind == KindZCL && reply.ClusterID == cluster && reply.Generic &&
			reply.CommandID == ZCLCommandReadAttributesResponse &&
			reply.Source.String() == cmd.Destination.String()
	}
	reply, err := m.send(ctx, cmd, matcher)
	if err != nil {
		return nil, err
	}
	return parseReadAttributesResponse(reply.Payload, attribute)
}

// parseReadAttributesResponse extracts the value for attribute from a Read
// Attributes Response payload: repeated (attribute id, status, [type,
// value]) records (spec §6).
func parseReadAttributesResponse(payload []byte, attribute uint16) ([]byte, error) {
	r := NewReader(payload)
	for r.Remaining() > 0 {
		attrID, err := r.GetUint16()
		if err != nil {
			return nil, fmt.Errorf("%w: attribute id: %v", ErrCodec, err)
		}
		status, err := r.GetUint8()
		if err != nil {
			return nil, fmt.Errorf("%w: status: %v", ErrCodec, err)
		}
		if status != 0x00 {
			if attrID == attribute {
				return nil, fmt.Errorf("%w: attribute 0x%04X status 0x%02X", ErrInvalidState, attrID, status)
			}
			continue
		}
		dataType, err := r.GetUint8()
		if err != nil {
			return nil, fmt.Errorf("%w: data type: %v", ErrCodec, err)
		}
		length, ok := zclDataTypeLength(dataType, r)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported data type 0x%02X", ErrCodec, dataType)
		}
		value, err := r.GetBytes(length)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute value: %v", ErrCodec, err)
		}
		if attrID == attribute {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%w: attribute 0x%04X not present in response", ErrInvalidState, attribute)
}

// zclDataTypeLength returns the fixed wire length of a ZCL data type, or
// reads and returns the variable length for a string type. Grounded on the
// teacher's zclDataTypeLength switch in urmzd-homai pkg/zigbee/zcl.go,
// extended with the variable-length string case (spec §6 edge note:
// octet/character strings are length-prefixed, not fixed-width).
func zclDataTypeLength(dataType uint8, r *Reader) (int, bool) {
	switch dataType {
	case 0x00: // no data
		return 0, true
	case 0x10: // boolean
		return 1, true
	case 0x20, 0x28, 0x30: // uint8 / int8 / enum8
		return 1, true
	case 0x21, 0x29, 0x31: // uint16 / int16 / enum16
		return 2, true
	case 0x22, 0x23, 0x2A, 0x2B: // uint24 / uint32 / int24 / int32
		if dataType == 0x22 || dataType == 0x2A {
			return 3, true
		}
		return 4, true
	case 0x25, 0x26, 0x2D, 0x2E: // uint40 / uint48 / int40 / int48
		if dataType == 0x25 || dataType == 0x2D {
			return 5, true
		}
		return 6, true
	case 0x27, 0x2F: // uint56 / int56
		return 7, true
	case 0x35, 0xE2: // time-of-day / UTC time
		return 4, true
	case 0x41, 0x42: // octet string / character string, length-prefixed
		n, err := r.GetUint8()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Write issues a ZCL Write Attributes request for a single attribute (spec
// §4.8). If an AttributeValidator is installed, value must pass validation
// before it is sent.
func (m *Manager) Write(ctx context.Context, dest DeviceAddress, cluster ClusterID, attribute uint16, dataType uint8, value []byte) error {
	if m.attrValidator != nil {
		if err := m.attrValidator.Validate(cluster, attribute, value); err != nil {
			return fmt.Errorf("write attribute: %w", err)
		}
	}
	w := NewWriter()
	w.PutUint16(attribute)
	w.PutUint8(dataType)
	w.PutBytes(value)
	cmd := &Command{
		Kind:        KindZCL,
		ClusterID:   cluster,
		Generic:     true,
		CommandID:   ZCLCommandWriteAttributes,
		Direction:   DirectionClientToServer,
		Destination: NewDeviceAddress(dest.NetworkAddress, dest.Endpoint),
		Payload:     w.Bytes(),
	}
	matcher := func(reply Command) bool {
		return reply.Kind == KindZCL && reply.ClusterID == cluster && reply.Generic &&
			reply.CommandID == ZCLCommandWriteAttributesResponse &&
			reply.Source.String() == cmd.Destination.String()
	}
	_, err := m.send(ctx, cmd, matcher)
	return err
}

// AddMembership creates the group, or relabels it if it is already known
// (spec §4.8). No device is associated with the group in the mesh model.
// This is mesh-model bookkeeping only; issuing the
// corresponding ZCL Groups cluster AddGroup command to the device itself is
// the caller's responsibility via Write/Send on that cluster.
func (m *Manager) AddMembership(groupID GroupID, label string) {
	if _, ok := m.mesh.GetGroup(groupID); ok {
		m.mesh.UpdateGroup(Group{ID: groupID, Label: label})
		return
	}
	m.mesh.AddGroup(Group{ID: groupID, Label: label})
}

// Bind creates a source-to-destination binding table entry. Not yet
// implemented: the teacher corpus has no ZDO Bind catalogue entry to adapt
// and the wire format needs a real device to validate against.
func (m *Manager) Bind(ctx context.Context, source DeviceAddress, cluster ClusterID, destination DeviceAddress) error {
	return ErrNotImplemented
}

// Unbind removes a binding table entry. See Bind.
func (m *Manager) Unbind(ctx context.Context, source DeviceAddress, cluster ClusterID, destination DeviceAddress) error {
	return ErrNotImplemented
}

// zdoResponseMatcher builds a Matcher for the response half of a ZDO
// request/response pair, correlating on the destination address the
// request was sent to (ZDO responses carry no echoed transaction payload
// field the catalogue decodes uniformly, so address plus cluster id is the
// practical correlation key).
func zdoResponseMatcher(responseCluster ClusterID, request *Command) Matcher {
	return func(reply Command) bool {
		return reply.Kind == KindZDO && reply.ClusterID == responseCluster &&
			reply.Source.String() == request.Destination.String()
	}
}
