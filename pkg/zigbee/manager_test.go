package zigbee_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zcl"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zdo"
)

// mockTransport is a programmable zigbee.Transport standing in for a real
// radio, used to drive the end-to-end scenarios in spec §8.
type mockTransport struct {
	mu       sync.Mutex
	receiver zigbee.Receiver
	sent     []zigbee.APSFrame

	formNetworkErr error
	sendErr        error

	onSend      func(zigbee.APSFrame)
	formNetwork func(zigbee.NetworkConfig)
}

func (t *mockTransport) Open(ctx context.Context) error { return nil }
func (t *mockTransport) Close() error                   { return nil }

func (t *mockTransport) Send(ctx context.Context, frame zigbee.APSFrame) error {
	t.mu.Lock()
	t.sent = append(t.sent, frame)
	onSend := t.onSend
	t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	if onSend != nil {
		onSend(frame)
	}
	return nil
}

func (t *mockTransport) FormNetwork(ctx context.Context, cfg zigbee.NetworkConfig) error {
	if t.formNetwork != nil {
		t.formNetwork(cfg)
	}
	return t.formNetworkErr
}

func (t *mockTransport) PermitJoining(ctx context.Context, duration uint8) error { return nil }

func (t *mockTransport) SetReceiver(r zigbee.Receiver) {
	t.mu.Lock()
	t.receiver = r
	t.mu.Unlock()
}

func (t *mockTransport) deliver(frame zigbee.APSFrame) {
	t.mu.Lock()
	r := t.receiver
	t.mu.Unlock()
	r.ReceiveFrame(frame)
}

func (t *mockTransport) lastSent() (zigbee.APSFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return zigbee.APSFrame{}, false
	}
	return t.sent[len(t.sent)-1], true
}

func newRunningManager(t *testing.T, transport *mockTransport) *zigbee.Manager {
	t.Helper()
	m := zigbee.NewManager(transport, zcl.New(), zdo.New())
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Startup(ctx, false); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// Scenario 1 (spec §8): boot join.
func TestBootJoin(t *testing.T) {
	transport := &mockTransport{}
	m := zigbee.NewManager(transport, zcl.New(), zdo.New())
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.SetChannel(15); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if err := m.Startup(ctx, false); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if got := m.State(); got != zigbee.StateRunning {
		t.Fatalf("expected Running after Startup, got %s", got)
	}
	_ = m.Shutdown(ctx)
	if got := m.State(); got != zigbee.StateStopped {
		t.Fatalf("expected Stopped after Shutdown, got %s", got)
	}
}

func TestStartupThreadsReinitializeIntoNetworkConfig(t *testing.T) {
	transport := &mockTransport{}
	var gotReinitialize bool
	transport.formNetwork = func(cfg zigbee.NetworkConfig) { gotReinitialize = cfg.Reinitialize }

	m := zigbee.NewManager(transport, zcl.New(), zdo.New())
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Startup(ctx, true); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	if !gotReinitialize {
		t.Fatal("expected Startup(ctx, true) to set NetworkConfig.Reinitialize")
	}
}

// Scenario 2 (spec §8): read attribute.
func TestReadAttribute(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	dest := zigbee.DeviceAddress{NetworkAddress: 0x1122, Endpoint: 1}
	transport.onSend = func(frame zigbee.APSFrame) {
		r := zigbee.NewReader(frame.Payload)
		header, err := zigbee.DecodeZCLHeader(r)
		if err != nil {
			t.Errorf("decode outbound ZCL header: %v", err)
			return
		}
		if header.FrameType != zigbee.FrameTypeEntireProfile {
			t.Errorf("expected ENTIRE_PROFILE frame type, got %v", header.FrameType)
		}
		if header.CommandID != zigbee.ZCLCommandReadAttributes {
			t.Errorf("expected Read Attributes command id, got 0x%02X", header.CommandID)
		}

		w := zigbee.NewWriter()
		zigbee.EncodeZCLHeader(w, zigbee.ZCLHeader{
			FrameType:      zigbee.FrameTypeEntireProfile,
			Direction:      zigbee.DirectionServerToClient,
			SequenceNumber: header.SequenceNumber,
			CommandID:      zigbee.ZCLCommandReadAttributesResponse,
		})
		w.PutUint16(0x0000) // attribute id
		w.PutUint8(0x00)    // status success
		w.PutUint8(0x10)    // boolean type
		w.PutUint8(0x01)    // value: true

		reply := zigbee.APSFrame{
			ProfileID:  zigbee.ProfileHA,
			ClusterID:  0x0006,
			SourceAddr: dest.NetworkAddress,
			SourceEP:   dest.Endpoint,
			Payload:    w.Bytes(),
		}
		go transport.deliver(reply)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, err := m.Read(ctx, dest, 0x0006, 0x0000)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(value) != 1 || value[0] != 0x01 {
		t.Fatalf("expected value [0x01], got %v", value)
	}
}

// Scenario 3 (spec §8): timeout.
func TestUnicastTimesOutAtEightSeconds(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 9*time.Second)
	defer cancel()

	_, err := m.Read(ctx, zigbee.DeviceAddress{NetworkAddress: 0xBEEF, Endpoint: 1}, 0x0006, 0x0000)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error for an unanswered read")
	}
	if elapsed < 8*time.Second {
		t.Fatalf("expected timeout no sooner than 8s, got %s", elapsed)
	}
	if elapsed > 8500*time.Millisecond {
		t.Fatalf("expected timeout close to the 8s ceiling, got %s", elapsed)
	}
}

// Scenario 4 (spec §8): permit join broadcast.
func TestPermitJoinNetworkBroadcast(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	if err := m.PermitJoinNetwork(context.Background(), 60); err != nil {
		t.Fatalf("PermitJoinNetwork: %v", err)
	}

	frame, ok := transport.lastSent()
	if !ok {
		t.Fatal("expected a frame to have been sent")
	}
	if frame.ProfileID != zigbee.ProfileZDO {
		t.Fatalf("expected ZDO profile, got 0x%04X", frame.ProfileID)
	}
	if frame.ClusterID != zigbee.ZDOPermitJoiningRequest {
		t.Fatalf("expected Permit Joining Request cluster, got 0x%04X", frame.ClusterID)
	}
	if frame.DestAddr != zigbee.BroadcastRoutersAndCoordinator {
		t.Fatalf("expected destination 0xFFFC, got 0x%04X", frame.DestAddr)
	}
	r := zigbee.NewReader(frame.Payload)
	_, _ = r.GetUint8() // zdo transaction sequence
	duration, err := r.GetUint8()
	if err != nil || duration != 60 {
		t.Fatalf("expected duration=60, got %d (err=%v)", duration, err)
	}
	tcSignificance, err := r.GetUint8()
	if err != nil || tcSignificance != 1 {
		t.Fatalf("expected tc-significance=true, got %d (err=%v)", tcSignificance, err)
	}
}

// Scenario 5 (spec §8): leave.
func TestLeaveEmitsManagementLeaveRequest(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	const parent = zigbee.NetworkAddress(0x1234)
	const ieee = zigbee.IEEEAddress(0x00158D0001234567)

	// The leaving device, not the parent, is what Leave must remove from
	// the mesh model: seed a device/node at a different network address
	// than parent so a removal keyed off parent's address would miss it.
	const leavingNwk = zigbee.NetworkAddress(0x5678)
	m.Mesh().AddNode(zigbee.Node{NetworkAddress: leavingNwk, IEEEAddress: ieee, Role: "end-device"})
	m.Mesh().AddDevice(zigbee.Device{Address: zigbee.DeviceAddress{NetworkAddress: leavingNwk, Endpoint: 1}, IEEEAddress: ieee})

	transport.onSend = func(frame zigbee.APSFrame) {
		w := zigbee.NewWriter()
		r := zigbee.NewReader(frame.Payload)
		seq, _ := r.GetUint8()
		w.PutUint8(seq)
		w.PutUint8(0x00) // status success
		go transport.deliver(zigbee.APSFrame{
			ProfileID:  zigbee.ProfileZDO,
			ClusterID:  zigbee.ZDOLeaveResponse,
			SourceAddr: parent,
			Payload:    w.Bytes(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Leave(ctx, parent, ieee); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	frame, ok := transport.lastSent()
	if !ok {
		t.Fatal("expected a frame to have been sent")
	}
	if frame.ClusterID != zigbee.ZDOLeaveRequest {
		t.Fatalf("expected Leave Request cluster, got 0x%04X", frame.ClusterID)
	}
	if frame.DestAddr != parent {
		t.Fatalf("expected destination %04X, got %04X", parent, frame.DestAddr)
	}
	r := zigbee.NewReader(frame.Payload)
	_, _ = r.GetUint8() // transaction sequence
	gotIEEE, err := r.GetIEEEAddress()
	if err != nil || gotIEEE != ieee {
		t.Fatalf("expected IEEE %s, got %s (err=%v)", ieee, gotIEEE, err)
	}

	if _, ok := m.Mesh().GetNode(leavingNwk); ok {
		t.Fatal("expected the leaving device's node to be removed from the mesh")
	}
	if _, ok := m.Mesh().GetDevice(zigbee.DeviceAddress{NetworkAddress: leavingNwk, Endpoint: 1}); ok {
		t.Fatal("expected the leaving device to be removed from the mesh")
	}
}

// Scenario 6 (spec §8): node add/remove notifications.
func TestNodeAddRemoveNotifiesOnce(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	var added, removed int
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	m.OnNode(func(ev zigbee.NodeEvent) {
		mu.Lock()
		switch ev.Kind {
		case zigbee.EventAdded:
			added++
		case zigbee.EventRemoved:
			removed++
			done <- struct{}{}
		}
		mu.Unlock()
	})

	n := zigbee.Node{NetworkAddress: 0x4455, IEEEAddress: 0x1}
	m.Mesh().AddNode(n)
	m.Mesh().RemoveNode(n.NetworkAddress)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remove notification")
	}

	mu.Lock()
	defer mu.Unlock()
	if added != 1 {
		t.Fatalf("expected exactly one node-added notification, got %d", added)
	}
	if removed != 1 {
		t.Fatalf("expected exactly one node-removed notification, got %d", removed)
	}
	if _, ok := m.Mesh().GetNode(n.NetworkAddress); ok {
		t.Fatal("expected GetNode to return nothing after removal")
	}
}

// Spec §8 removal property: a listener, once removed, must not be called
// for events fired afterward.
func TestNodeListenerRemovalStopsFutureNotifications(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	var mu sync.Mutex
	var afterRemovalCalls int
	firstDone := make(chan struct{}, 1)

	unsubscribe := m.OnNode(func(ev zigbee.NodeEvent) {
		mu.Lock()
		afterRemovalCalls++
		mu.Unlock()
		firstDone <- struct{}{}
	})

	m.Mesh().AddNode(zigbee.Node{NetworkAddress: 0x1111, IEEEAddress: 0x1})
	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first node-added notification")
	}

	unsubscribe()

	// Adding a second node exercises the listener list after unsubscribe;
	// drain via a second listener so the test does
	// not depend on a fixed sleep to observe "no further calls".
	secondSeen := make(chan struct{}, 1)
	m.OnNode(func(zigbee.NodeEvent) { secondSeen <- struct{}{} })

	m.Mesh().AddNode(zigbee.Node{NetworkAddress: 0x2222, IEEEAddress: 0x2})
	select {
	case <-secondSeen:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second listener's notification")
	}

	mu.Lock()
	defer mu.Unlock()
	if afterRemovalCalls != 1 {
		t.Fatalf("expected the unsubscribed listener to have fired exactly once, got %d", afterRemovalCalls)
	}
}

func TestSequentialSendsAllocateContiguousTransactionIDs(t *testing.T) {
	transport := &mockTransport{}
	m := newRunningManager(t, transport)

	const n = 5
	var got []uint8
	var mu sync.Mutex
	transport.onSend = func(frame zigbee.APSFrame) {
		mu.Lock()
		got = append(got, frame.Sequence)
		mu.Unlock()
	}

	for i := 0; i < n; i++ {
		if err := m.PermitJoinNetwork(context.Background(), 10); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("expected %d sends, got %d", n, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("transaction ids not contiguous: %v", got)
		}
	}
}
