// Package zdo is the ZigBee Device Object management command catalogue: a
// static registry of ZDO request/response encoders and decoders,
// implementing zigbee.Registry.
//
// ZDO has no separate ZCL-style header or cluster-specific/global split —
// a ZDO "cluster id" doubles as the command type, and CommandID is always
// zero. Grounded on the teacher's EZSPLayer.PermitJoining (building an
// EmberApsFrame for cluster 0x0036) in urmzd-homai pkg/zigbee/ezsp.go,
// extended with Leave Request/Response and Active Endpoints
// Request/Response per the supplemented catalogue.
package zdo

import (
	"fmt"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
)

type key struct {
	cluster zigbee.ClusterID
	dir     zigbee.Direction
}

type entry struct {
	encode func(cmd zigbee.Command) ([]byte, error)
	decode func(body []byte) (zigbee.Command, error)
}

// Registry is the ZDO command catalogue. The zero value is not usable; use
// New.
type Registry struct {
	commands map[key]entry
}

// New builds the ZDO registry with Permit Joining, Leave, and Active
// Endpoints registered.
func New() *Registry {
	r := &Registry{commands: make(map[key]entry)}
	r.add(zigbee.ZDOPermitJoiningRequest, zigbee.DirectionClientToServer, entry{encode: passthroughEncode, decode: passthroughDecode})
	r.add(zigbee.ZDOPermitJoiningResponse, zigbee.DirectionServerToClient, entry{encode: passthroughEncode, decode: decodeStatusOnly})
	r.add(zigbee.ZDOLeaveRequest, zigbee.DirectionClientToServer, entry{encode: passthroughEncode, decode: passthroughDecode})
	r.add(zigbee.ZDOLeaveResponse, zigbee.DirectionServerToClient, entry{encode: passthroughEncode, decode: decodeStatusOnly})
	r.add(zigbee.ZDOActiveEndpointsRequest, zigbee.DirectionClientToServer, entry{encode: passthroughEncode, decode: passthroughDecode})
	r.add(zigbee.ZDOActiveEndpointsResponse, zigbee.DirectionServerToClient, entry{encode: passthroughEncode, decode: decodeActiveEndpointsResponse})
	r.add(zigbee.ZDOEndDeviceAnnounce, zigbee.DirectionClientToServer, entry{encode: passthroughEncode, decode: passthroughDecode})
	return r
}

func (r *Registry) add(cluster zigbee.ClusterID, dir zigbee.Direction, e entry) {
	r.commands[key{cluster, dir}] = e
}

func passthroughEncode(cmd zigbee.Command) ([]byte, error) { return cmd.Payload, nil }
func passthroughDecode(body []byte) (zigbee.Command, error) {
	return zigbee.Command{Payload: body}, nil
}

// decodeStatusOnly parses a one-byte ZDO status response (Permit Joining
// Response, Leave Response both carry just a status byte).
func decodeStatusOnly(body []byte) (zigbee.Command, error) {
	if len(body) < 1 {
		return zigbee.Command{}, fmt.Errorf("%w: zdo status response too short", zigbee.ErrCodec)
	}
	return zigbee.Command{Payload: body[:1]}, nil
}

// decodeActiveEndpointsResponse parses the Active Endpoints Response body:
// status byte, network address, endpoint count, then that many endpoint
// bytes (spec "Supplemented features").
func decodeActiveEndpointsResponse(body []byte) (zigbee.Command, error) {
	if len(body) < 4 {
		return zigbee.Command{}, fmt.Errorf("%w: active endpoints response too short", zigbee.ErrCodec)
	}
	count := int(body[3])
	if len(body) < 4+count {
		return zigbee.Command{}, fmt.Errorf("%w: active endpoints response truncated endpoint list", zigbee.ErrCodec)
	}
	return zigbee.Command{Payload: body[:4+count]}, nil
}

// Encode implements zigbee.Registry.
func (r *Registry) Encode(cmd zigbee.Command) ([]byte, error) {
	e, ok := r.commands[key{cmd.ClusterID, cmd.Direction}]
	if !ok {
		return nil, fmt.Errorf("%w: zdo cluster 0x%04X", zigbee.ErrUnregisteredCommand, cmd.ClusterID)
	}
	body, err := e.encode(cmd)
	if err != nil {
		return nil, err
	}
	w := zigbee.NewWriter()
	w.PutUint8(cmd.TransactionID)
	w.PutBytes(body)
	return w.Bytes(), nil
}

// Decode implements zigbee.Registry.
func (r *Registry) Decode(rkey zigbee.RegistryKey, payload []byte) (zigbee.Command, error) {
	e, ok := r.commands[key{rkey.ClusterID, rkey.Direction}]
	if !ok {
		return zigbee.Command{}, fmt.Errorf("%w: zdo cluster 0x%04X", zigbee.ErrUnregisteredCommand, rkey.ClusterID)
	}
	return e.decode(payload)
}

// ActiveEndpoints extracts the endpoint list from a decoded Active
// Endpoints Response command's payload.
func ActiveEndpoints(payload []byte) ([]zigbee.Endpoint, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: active endpoints payload too short", zigbee.ErrCodec)
	}
	count := int(payload[3])
	if len(payload) < 4+count {
		return nil, fmt.Errorf("%w: active endpoints payload truncated", zigbee.ErrCodec)
	}
	out := make([]zigbee.Endpoint, count)
	for i := 0; i < count; i++ {
		out[i] = zigbee.Endpoint(payload[4+i])
	}
	return out, nil
}

var _ zigbee.Registry = (*Registry)(nil)
