package zcl_test

import (
	"bytes"
	"testing"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zcl"
)

// decodeFrame strips the ZCL header the way framepipeline.parseZCL does, so
// the registry round-trip test exercises Decode exactly as it is exercised
// against real inbound wire bytes.
func decodeFrame(t *testing.T, r *zcl.Registry, wire []byte, clusterID zigbee.ClusterID) zigbee.Command {
	t.Helper()
	reader := zigbee.NewReader(wire)
	header, err := zigbee.DecodeZCLHeader(reader)
	if err != nil {
		t.Fatalf("DecodeZCLHeader: %v", err)
	}
	key := zigbee.RegistryKey{
		ClusterID: clusterID,
		CommandID: header.CommandID,
		Direction: header.Direction,
		Generic:   header.FrameType == zigbee.FrameTypeEntireProfile,
	}
	cmd, err := r.Decode(key, reader.GetRest())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cmd.CommandID = header.CommandID
	cmd.Direction = header.Direction
	cmd.Generic = key.Generic
	return cmd
}

func TestOnOffCommandRoundTrips(t *testing.T) {
	r := zcl.New()

	cmd := zigbee.Command{
		Kind:      zigbee.KindZCL,
		ClusterID: zcl.ClusterOnOff,
		CommandID: zcl.CommandOn,
		Direction: zigbee.DirectionClientToServer,
	}
	wire, err := r.Encode(cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got := decodeFrame(t, r, wire, zcl.ClusterOnOff)
	if got.CommandID != zcl.CommandOn || got.Direction != zigbee.DirectionClientToServer {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestMoveToLevelRoundTrips(t *testing.T) {
	r := zcl.New()

	payload := zcl.EncodeMoveToLevel(128, 10)
	cmd := zigbee.Command{
		Kind:      zigbee.KindZCL,
		ClusterID: zcl.ClusterLevelControl,
		CommandID: zcl.CommandMoveToLevel,
		Direction: zigbee.DirectionClientToServer,
		Payload:   payload,
	}
	wire, err := r.Encode(cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got := decodeFrame(t, r, wire, zcl.ClusterLevelControl)
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("expected payload %v, got %v", payload, got.Payload)
	}
}

func TestReadAttributesRoundTripsAsGenericCommand(t *testing.T) {
	r := zcl.New()

	w := zigbee.NewWriter()
	w.PutUint16(zcl.AttrOnOff)
	cmd := zigbee.Command{
		Kind:      zigbee.KindZCL,
		ClusterID: zcl.ClusterOnOff,
		Generic:   true,
		CommandID: zigbee.ZCLCommandReadAttributes,
		Direction: zigbee.DirectionClientToServer,
		Payload:   w.Bytes(),
	}
	wire, err := r.Encode(cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got := decodeFrame(t, r, wire, zcl.ClusterOnOff)
	if !got.Generic {
		t.Fatal("expected the global Read Attributes command to decode as generic")
	}
	if !bytes.Equal(got.Payload, w.Bytes()) {
		t.Fatalf("expected payload %v, got %v", w.Bytes(), got.Payload)
	}
}

func TestEncodeUnregisteredCommandFails(t *testing.T) {
	r := zcl.New()
	_, err := r.Encode(zigbee.Command{
		Kind:      zigbee.KindZCL,
		ClusterID: zcl.ClusterOnOff,
		CommandID: 0xEE,
		Direction: zigbee.DirectionClientToServer,
	})
	if err == nil {
		t.Fatal("expected an error encoding an unregistered command")
	}
}
