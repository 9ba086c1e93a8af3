package zigbee

import "fmt"

// NetworkAddress is a ZigBee 16-bit network (short) address.
type NetworkAddress uint16

// IEEEAddress is a ZigBee 64-bit extended (IEEE/EUI-64) address.
type IEEEAddress uint64

// String formats the IEEE address as colon-separated hex octets, most
// significant octet first.
func (a IEEEAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
		byte(a>>56), byte(a>>48), byte(a>>40), byte(a>>32),
		byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Endpoint is an 8-bit application subaddress within a node.
type Endpoint uint8

// DeviceAddress identifies an endpoint instance on a node: (network address,
// endpoint). This is the key of the mesh model's device map.
type DeviceAddress struct {
	NetworkAddress NetworkAddress
	Endpoint       Endpoint
}

func (a DeviceAddress) String() string {
	return fmt.Sprintf("0x%04X/%d", uint16(a.NetworkAddress), a.Endpoint)
}

// GroupID is a 16-bit ZigBee multicast group identifier.
type GroupID uint16

// GroupAddress identifies a group destination.
type GroupAddress struct {
	ID GroupID
}

// Address is the tagged variant DeviceAddress | GroupAddress used as a
// command's source/destination (spec §3).
type Address struct {
	device *DeviceAddress
	group  *GroupAddress
}

// NewDeviceAddress builds an Address wrapping a device (endpoint) address.
func NewDeviceAddress(nwk NetworkAddress, endpoint Endpoint) Address {
	return Address{device: &DeviceAddress{NetworkAddress: nwk, Endpoint: endpoint}}
}

// NewGroupAddress builds an Address wrapping a group address.
func NewGroupAddress(id GroupID) Address {
	return Address{group: &GroupAddress{ID: id}}
}

// IsGroup reports whether this address is a group destination.
func (a Address) IsGroup() bool {
	return a.group != nil
}

// Device returns the device address and true if this address is a device
// address.
func (a Address) Device() (DeviceAddress, bool) {
	if a.device == nil {
		return DeviceAddress{}, false
	}
	return *a.device, true
}

// Group returns the group address and true if this address is a group
// address.
func (a Address) Group() (GroupAddress, bool) {
	if a.group == nil {
		return GroupAddress{}, false
	}
	return *a.group, true
}

func (a Address) String() string {
	if a.IsGroup() {
		return fmt.Sprintf("group:0x%04X", uint16(a.group.ID))
	}
	if a.device != nil {
		return a.device.String()
	}
	return "<unset>"
}

// Broadcast destinations (spec GLOSSARY).
const (
	// BroadcastAllDevices targets every node including sleeping end devices.
	BroadcastAllDevices NetworkAddress = 0xFFFF
	// BroadcastRoutersAndCoordinator targets routers and the coordinator
	// (used by Management Permit Joining Request, spec §4.8).
	BroadcastRoutersAndCoordinator NetworkAddress = 0xFFFC
	// BroadcastNonSleepingDevices targets all non-sleeping devices.
	BroadcastNonSleepingDevices NetworkAddress = 0xFFFD
)

// AddressMode selects how the destination is encoded in an APS frame.
type AddressMode uint8

const (
	AddressModeDevice AddressMode = iota
	AddressModeGroup
)
