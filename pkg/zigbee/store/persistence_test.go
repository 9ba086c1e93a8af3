package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/store"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zcl"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zdo"
)

// noopTransport satisfies zigbee.Transport without ever being opened; the
// persistence round-trip only needs a Manager for its Mesh(), not a live
// radio.
type noopTransport struct{}

func (noopTransport) Open(context.Context) error                  { return nil }
func (noopTransport) Close() error                                { return nil }
func (noopTransport) Send(context.Context, zigbee.APSFrame) error { return nil }
func (noopTransport) FormNetwork(context.Context, zigbee.NetworkConfig) error {
	return nil
}
func (noopTransport) PermitJoining(context.Context, uint8) error { return nil }
func (noopTransport) SetReceiver(zigbee.Receiver)                {}

func newManager() *zigbee.Manager {
	return zigbee.NewManager(noopTransport{}, zcl.New(), zdo.New())
}

func TestAdapterRoundTripsMeshSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	writer, err := store.OpenAdapter(dbPath)
	if err != nil {
		t.Fatalf("OpenAdapter: %v", err)
	}

	m := newManager()
	m.Mesh().AddNode(zigbee.Node{NetworkAddress: 0x1234, IEEEAddress: 0x00158D0001234567, Role: "router"})
	m.Mesh().AddDevice(zigbee.Device{
		Address:        zigbee.DeviceAddress{NetworkAddress: 0x1234, Endpoint: 1},
		IEEEAddress:    0x00158D0001234567,
		ProfileID:      zigbee.ProfileHA,
		InputClusters:  []zigbee.ClusterID{0x0000, 0x0006},
		OutputClusters: []zigbee.ClusterID{0x0019},
	})
	m.Mesh().AddGroup(zigbee.Group{ID: 1, Label: "kitchen"})

	if err := writer.Serialize(m); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := store.OpenAdapter(dbPath)
	if err != nil {
		t.Fatalf("re-open OpenAdapter: %v", err)
	}
	defer reader.Close()

	loaded := newManager()
	if err := reader.Deserialize(loaded); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	node, ok := loaded.Mesh().GetNode(0x1234)
	if !ok || node.Role != "router" {
		t.Fatalf("expected loaded node with role router, got %+v, %v", node, ok)
	}

	device, ok := loaded.Mesh().GetDevice(zigbee.DeviceAddress{NetworkAddress: 0x1234, Endpoint: 1})
	if !ok {
		t.Fatal("expected loaded device to be present")
	}
	if len(device.InputClusters) != 2 || device.InputClusters[1] != 0x0006 {
		t.Fatalf("expected input clusters to round-trip, got %v", device.InputClusters)
	}
	if len(device.OutputClusters) != 1 || device.OutputClusters[0] != 0x0019 {
		t.Fatalf("expected output clusters to round-trip, got %v", device.OutputClusters)
	}

	group, ok := loaded.Mesh().GetGroup(1)
	if !ok || group.Label != "kitchen" {
		t.Fatalf("expected loaded group kitchen, got %+v, %v", group, ok)
	}
}

// TestManagerInitializeLoadsWithoutWipingSiblingTables guards against a
// regression where loading nodes one row at a time through Mesh.AddNode
// triggered a save() mid-Deserialize: that save would rewrite the devices
// and groups tables from the still-empty in-memory mesh, deleting them
// before their own load passes ran. Using a real *zigbee.Manager wired
// WithPersistence (rather than the bare newManager helper) exercises the
// exact Initialize code path production hits.
func TestManagerInitializeLoadsWithoutWipingSiblingTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	writer, err := store.OpenAdapter(dbPath)
	if err != nil {
		t.Fatalf("OpenAdapter: %v", err)
	}

	seed := newManager()
	seed.Mesh().AddNode(zigbee.Node{NetworkAddress: 0x1234, IEEEAddress: 0x00158D0001234567, Role: "router"})
	seed.Mesh().AddDevice(zigbee.Device{
		Address:        zigbee.DeviceAddress{NetworkAddress: 0x1234, Endpoint: 1},
		IEEEAddress:    0x00158D0001234567,
		ProfileID:      zigbee.ProfileHA,
		InputClusters:  []zigbee.ClusterID{0x0000, 0x0006},
		OutputClusters: []zigbee.ClusterID{0x0019},
	})
	seed.Mesh().AddGroup(zigbee.Group{ID: 1, Label: "kitchen"})
	if err := writer.Serialize(seed); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := store.OpenAdapter(dbPath)
	if err != nil {
		t.Fatalf("re-open OpenAdapter: %v", err)
	}
	defer reader.Close()

	m := zigbee.NewManager(noopTransport{}, zcl.New(), zdo.New(), zigbee.WithPersistence(reader))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, ok := m.Mesh().GetNode(0x1234); !ok {
		t.Fatal("expected the node loaded during Initialize to survive")
	}
	if _, ok := m.Mesh().GetDevice(zigbee.DeviceAddress{NetworkAddress: 0x1234, Endpoint: 1}); !ok {
		t.Fatal("expected the device to survive Initialize's node load pass without being wiped")
	}
	if _, ok := m.Mesh().GetGroup(1); !ok {
		t.Fatal("expected the group to survive Initialize's node/device load passes without being wiped")
	}
}

func TestOpenAdapterMigratesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fresh.db")

	a, err := store.OpenAdapter(dbPath)
	if err != nil {
		t.Fatalf("OpenAdapter: %v", err)
	}
	defer a.Close()

	m := newManager()
	if err := a.Deserialize(m); err != nil {
		t.Fatalf("Deserialize on an empty freshly-migrated database: %v", err)
	}
	if len(m.Mesh().Nodes()) != 0 {
		t.Fatalf("expected no nodes in a fresh database, got %d", len(m.Mesh().Nodes()))
	}
}
