package zigbee

// Well-known ZDO cluster ids (spec §4.4, §4.8). A ZDO "cluster id" doubles
// as its command type; the response half of a request/response pair sets
// zdoResponseBit.
const (
	ZDOActiveEndpointsRequest  ClusterID = 0x0005
	ZDOActiveEndpointsResponse ClusterID = 0x0005 | zdoResponseBit

	ZDOEndDeviceAnnounce ClusterID = 0x0013

	ZDOLeaveRequest  ClusterID = 0x0034
	ZDOLeaveResponse ClusterID = 0x0034 | zdoResponseBit

	ZDOPermitJoiningRequest  ClusterID = 0x0036
	ZDOPermitJoiningResponse ClusterID = 0x0036 | zdoResponseBit

	ZDOBindRequest    ClusterID = 0x0021
	ZDOBindResponse   ClusterID = 0x0021 | zdoResponseBit
	ZDOUnbindRequest  ClusterID = 0x0022
	ZDOUnbindResponse ClusterID = 0x0022 | zdoResponseBit
)

// Well-known ZCL global (entire-profile) command ids (spec §4.3 step 4,
// §6). These apply across every cluster and are encoded with
// FrameTypeEntireProfile.
const (
	ZCLCommandReadAttributes          uint8 = 0x00
	ZCLCommandReadAttributesResponse  uint8 = 0x01
	ZCLCommandWriteAttributes         uint8 = 0x02
	ZCLCommandWriteAttributesResponse uint8 = 0x04
	ZCLCommandReportAttributes        uint8 = 0x0A
)

// Cluster-specific command ids (On/Off, Level Control) live in
// pkg/zigbee/zcl alongside the rest of that cluster's catalogue, since they
// are not global. No Groups cluster commands are defined; AddMembership
// only updates the mesh model.
