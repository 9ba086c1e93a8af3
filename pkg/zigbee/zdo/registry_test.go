package zdo_test

import (
	"bytes"
	"testing"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zdo"
)

func TestPermitJoiningRequestRoundTrips(t *testing.T) {
	r := zdo.New()

	cmd := zigbee.Command{
		Kind:          zigbee.KindZDO,
		ClusterID:     zigbee.ZDOPermitJoiningRequest,
		Direction:     zigbee.DirectionClientToServer,
		TransactionID: 42,
		Payload:       []byte{60, 0x01},
	}
	wire, err := r.Encode(cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if wire[0] != 42 {
		t.Fatalf("expected transaction id prefix 42, got %d", wire[0])
	}

	reader := zigbee.NewReader(wire)
	seq, err := reader.GetUint8()
	if err != nil || seq != 42 {
		t.Fatalf("expected sequence 42, got %d (err=%v)", seq, err)
	}

	key := zigbee.RegistryKey{ClusterID: zigbee.ZDOPermitJoiningRequest, Direction: zigbee.DirectionClientToServer}
	got, err := r.Decode(key, reader.GetRest())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Payload, []byte{60, 0x01}) {
		t.Fatalf("expected payload [60 1], got %v", got.Payload)
	}
}

func TestLeaveResponseDecodesStatusOnly(t *testing.T) {
	r := zdo.New()
	key := zigbee.RegistryKey{ClusterID: zigbee.ZDOLeaveResponse, Direction: zigbee.DirectionServerToClient}

	got, err := r.Decode(key, []byte{0x00})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Payload) != 1 || got.Payload[0] != 0x00 {
		t.Fatalf("expected single success status byte, got %v", got.Payload)
	}

	if _, err := r.Decode(key, nil); err == nil {
		t.Fatal("expected an error decoding a truncated status response")
	}
}

func TestActiveEndpointsResponseDecodesEndpointList(t *testing.T) {
	r := zdo.New()
	key := zigbee.RegistryKey{ClusterID: zigbee.ZDOActiveEndpointsResponse, Direction: zigbee.DirectionServerToClient}

	body := []byte{0x00, 0x34, 0x12, 0x02, 0x01, 0x02}
	got, err := r.Decode(key, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	endpoints, err := zdo.ActiveEndpoints(got.Payload)
	if err != nil {
		t.Fatalf("ActiveEndpoints: %v", err)
	}
	if len(endpoints) != 2 || endpoints[0] != 1 || endpoints[1] != 2 {
		t.Fatalf("expected endpoints [1 2], got %v", endpoints)
	}
}

func TestActiveEndpointsResponseRejectsTruncatedList(t *testing.T) {
	r := zdo.New()
	key := zigbee.RegistryKey{ClusterID: zigbee.ZDOActiveEndpointsResponse, Direction: zigbee.DirectionServerToClient}

	_, err := r.Decode(key, []byte{0x00, 0x34, 0x12, 0x02, 0x01})
	if err == nil {
		t.Fatal("expected an error decoding a truncated endpoint list")
	}
}

func TestEncodeUnregisteredClusterFails(t *testing.T) {
	r := zdo.New()
	_, err := r.Encode(zigbee.Command{Kind: zigbee.KindZDO, ClusterID: 0x9999, Direction: zigbee.DirectionClientToServer})
	if err == nil {
		t.Fatal("expected an error encoding an unregistered ZDO cluster")
	}
}
