// Package ezsp adapts a Silicon Labs EZSP/ASH radio dongle to the
// zigbee.Transport contract, so a Manager can drive a real NCP over a
// serial port.
//
// Grounded on the teacher's Controller (urmzd-homai pkg/zigbee/controller.go),
// which played this same "own the serial/ASH/EZSP stack, translate NCP
// callbacks into application events" role directly against its own
// device.Controller interface; generalized here to implement
// zigbee.Transport/zigbee.Receiver instead, with KnownDevice/state
// tracking removed since that bookkeeping now lives in the core package's
// Mesh model.
package ezsp

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
)

const (
	emberSuccessStatus     = 0x00
	emberNetworkUpStatus   = 0x90
	emberNetworkDownStatus = 0x91
)

// Transport drives a Silicon Labs EZSP NCP over a serial port as a
// zigbee.Transport.
type Transport struct {
	portPath string
	logger   zerolog.Logger

	serial *serialPort
	ash    *ashLayer
	ezsp   *ezspLayer

	mu       sync.RWMutex
	receiver zigbee.Receiver
}

// New constructs a Transport bound to the serial device at portPath. Open
// must be called before use.
func New(portPath string, logger zerolog.Logger) *Transport {
	return &Transport{portPath: portPath, logger: logger.With().Str("component", "ezsp_transport").Logger()}
}

// SetReceiver implements zigbee.Transport.
func (t *Transport) SetReceiver(r zigbee.Receiver) {
	t.mu.Lock()
	t.receiver = r
	t.mu.Unlock()
}

func (t *Transport) deliver(frame zigbee.APSFrame) {
	t.mu.RLock()
	r := t.receiver
	t.mu.RUnlock()
	if r != nil {
		r.ReceiveFrame(frame)
	}
}

// Open implements zigbee.Transport: opens the serial port, runs the ASH
// RST/RSTACK handshake, starts EZSP frame processing, and negotiates the
// EZSP protocol version.
func (t *Transport) Open(ctx context.Context) error {
	s, err := openSerial(t.portPath, t.logger)
	if err != nil {
		return fmt.Errorf("open serial: %w", err)
	}
	t.serial = s

	t.ash = newASHLayer(s, t.logger)
	t.ezsp = newEZSPLayer(t.ash, t.logger)
	t.ezsp.SetCallbackHandler(t.handleCallback)

	if err := t.ash.Connect(); err != nil {
		_ = s.Close()
		return fmt.Errorf("ASH connect: %w", err)
	}
	t.ezsp.Start()

	proto, _, stackVer, err := t.ezsp.NegotiateVersion()
	if err != nil {
		return fmt.Errorf("negotiate EZSP version: %w", err)
	}
	t.logger.Info().Uint8("protocol", proto).Uint16("stack", stackVer).Msg("EZSP version negotiated")

	if err := t.ezsp.ConfigureStack(); err != nil {
		return fmt.Errorf("configure stack: %w", err)
	}
	return nil
}

// Close implements zigbee.Transport.
func (t *Transport) Close() error {
	if t.ezsp != nil {
		t.ezsp.Close()
	}
	if t.ash != nil {
		t.ash.Close()
	}
	if t.serial != nil {
		return t.serial.Close()
	}
	return nil
}

// FormNetwork implements zigbee.Transport: unless cfg.Reinitialize is set,
// it first tries to resume a network already held in NCP nonvolatile
// memory; otherwise (or if nothing survives) it forms a new one with cfg's
// parameters, falling back to channel 15 if cfg leaves the channel unset,
// and to a random PAN id if cfg's PAN id is 0 or 0xFFFF ("transport
// chooses").
func (t *Transport) FormNetwork(ctx context.Context, cfg zigbee.NetworkConfig) error {
	if !cfg.Reinitialize {
		status, err := t.ezsp.NetworkInit()
		if err != nil {
			return fmt.Errorf("network init: %w", err)
		}
		if status == emberSuccessStatus || status == emberNetworkUpStatus {
			t.logger.Info().Msg("resumed existing network")
			return nil
		}
	} else {
		t.logger.Info().Msg("reinitializing: discarding any surviving network state")
	}

	channel := cfg.Channel
	if channel == 0 {
		channel = 15
	}
	panID := cfg.PANID
	if panID == 0 || panID == 0xFFFF {
		panID = uint16(rand.Intn(0xFFFE) + 1)
	}
	var extPanID [8]byte
	if cfg.ExtendedPANID != 0 {
		binary.LittleEndian.PutUint64(extPanID[:], cfg.ExtendedPANID)
	} else {
		for i := range extPanID {
			extPanID[i] = byte(rand.Intn(256))
		}
	}

	if err := t.ezsp.FormNetwork(channel, panID, extPanID); err != nil {
		return fmt.Errorf("form network: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	return nil
}

// PermitJoining implements zigbee.Transport.
func (t *Transport) PermitJoining(ctx context.Context, duration uint8) error {
	return t.ezsp.PermitJoining(duration)
}

// Send implements zigbee.Transport: unicast for a device destination,
// broadcast for a group or broadcast network address.
func (t *Transport) Send(ctx context.Context, frame zigbee.APSFrame) error {
	if frame.AddressMode == zigbee.AddressModeGroup {
		return t.ezsp.SendBroadcast(uint16(frame.GroupID), uint16(frame.ProfileID), uint16(frame.ClusterID), uint8(frame.SourceEP), uint8(frame.DestEP), frame.Payload)
	}
	if frame.DestAddr == zigbee.BroadcastAllDevices || frame.DestAddr == zigbee.BroadcastRoutersAndCoordinator || frame.DestAddr == zigbee.BroadcastNonSleepingDevices {
		return t.ezsp.SendBroadcast(uint16(frame.DestAddr), uint16(frame.ProfileID), uint16(frame.ClusterID), uint8(frame.SourceEP), uint8(frame.DestEP), frame.Payload)
	}
	return t.ezsp.SendUnicast(uint16(frame.DestAddr), uint16(frame.ProfileID), uint16(frame.ClusterID), uint8(frame.SourceEP), uint8(frame.DestEP), frame.Payload)
}

// handleCallback routes an async EZSP callback to the right handler.
func (t *Transport) handleCallback(frameID uint16, data []byte) {
	switch frameID {
	case ezspIncomingMessageHandler:
		t.handleIncomingMessage(data)
	case ezspStackStatusHandler:
		t.handleStackStatus(data)
	case ezspTrustCenterJoinHandler:
		t.handleTrustCenterJoin(data)
	default:
		t.logger.Debug().Uint16("frame_id", frameID).Msg("unhandled EZSP callback")
	}
}

// handleIncomingMessage decodes an incomingMessageHandler callback into an
// APSFrame and delivers it to the installed Receiver.
//
// Layout: type(1) + apsFrame(11) + lastHopLqi(1) + lastHopRssi(1) +
// sender(2) + bindingIndex(1) + addressIndex(1) + messageLength(1) +
// message(N).
func (t *Transport) handleIncomingMessage(data []byte) {
	if len(data) < 19 {
		t.logger.Debug().Int("len", len(data)).Msg("incoming message callback too short")
		return
	}

	profileID := binary.LittleEndian.Uint16(data[1:3])
	clusterID := binary.LittleEndian.Uint16(data[3:5])
	srcEndpoint := data[5]
	dstEndpoint := data[6]
	sender := binary.LittleEndian.Uint16(data[14:16])
	msgLen := data[18]

	if len(data) < 19+int(msgLen) {
		t.logger.Debug().Msg("incoming message callback truncated")
		return
	}
	message := make([]byte, msgLen)
	copy(message, data[19:19+int(msgLen)])

	t.deliver(zigbee.APSFrame{
		ProfileID:  zigbee.ProfileID(profileID),
		ClusterID:  zigbee.ClusterID(clusterID),
		SourceAddr: zigbee.NetworkAddress(sender),
		SourceEP:   zigbee.Endpoint(srcEndpoint),
		DestEP:     zigbee.Endpoint(dstEndpoint),
		Payload:    message,
	})
}

func (t *Transport) handleStackStatus(data []byte) {
	if len(data) < 1 {
		return
	}
	switch data[0] {
	case emberNetworkUpStatus:
		t.logger.Info().Msg("stack status: network up")
	case emberNetworkDownStatus:
		t.logger.Warn().Msg("stack status: network down")
	default:
		t.logger.Info().Uint8("status", data[0]).Msg("stack status changed")
	}
}

// handleTrustCenterJoin decodes a trustCenterJoinHandler callback into an
// End Device Announce-shaped APS frame so it flows through the same
// Manager.foldIntoMesh path as a genuine ZDO announcement.
func (t *Transport) handleTrustCenterJoin(data []byte) {
	if len(data) < 11 {
		return
	}
	nodeID := binary.LittleEndian.Uint16(data[0:2])
	ieee := binary.LittleEndian.Uint64(data[2:10])
	status := data[10]

	const deviceLeft = 3
	if status == deviceLeft {
		return
	}

	w := zigbee.NewWriter()
	w.PutUint16(nodeID)
	w.PutUint64(ieee)
	w.PutUint8(0x00) // capability, unknown from this callback
	t.deliver(zigbee.APSFrame{
		ProfileID:  zigbee.ProfileZDO,
		ClusterID:  zigbee.ZDOEndDeviceAnnounce,
		SourceAddr: zigbee.NetworkAddress(nodeID),
		Payload:    append([]byte{0x00}, w.Bytes()...), // transaction sequence prefix
	})
}

var _ zigbee.Transport = (*Transport)(nil)
