package ezsp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EZSP frame ids (EmberZNet Serial Protocol, host <-> NCP command/response
// framing carried over ASH).
const (
	ezspVersion               uint16 = 0x0000
	ezspSetConfigurationValue uint16 = 0x0053
	ezspGetNetworkParameters  uint16 = 0x0028
	ezspNetworkInit           uint16 = 0x0017
	ezspFormNetwork           uint16 = 0x001E
	ezspPermitJoining         uint16 = 0x0022
	ezspSendUnicast           uint16 = 0x0034
	ezspSendBroadcast         uint16 = 0x0036
	ezspGetEUI64              uint16 = 0x0026

	ezspTrustCenterJoinHandler uint16 = 0x0024
	ezspIncomingMessageHandler uint16 = 0x0045
	ezspMessageSentHandler     uint16 = 0x003F
	ezspStackStatusHandler     uint16 = 0x0019

	ezspConfigStackProfile                uint8 = 0x0C
	ezspConfigSecurityLevel               uint8 = 0x0D
	ezspConfigMaxEndDeviceChildren        uint8 = 0x03
	ezspConfigIndirectTransmissionTimeout uint8 = 0x12
	ezspConfigMaxHops                     uint8 = 0x10
	ezspConfigTrustCenterAddressCacheSize uint8 = 0x19
	ezspConfigSourceRouteTableSize        uint8 = 0x1A
	ezspConfigAddressTableSize            uint8 = 0x05

	ezspProtocolVersion = 13

	emberSuccess = 0x00

	emberApsOptionRetry                = 0x0040
	emberApsOptionEnableRouteDiscovery = 0x0100
)

// ezspLayer handles EZSP command/response framing over ASH.
//
// Grounded on the teacher's EZSPLayer (urmzd-homai pkg/zigbee/ezsp.go),
// unchanged in protocol logic apart from an injected logger, a lowercase
// (unexported) type since this layer is now an implementation detail of
// the package's zigbee.Transport adapter rather than its public surface,
// and the addition of sendBroadcast for group/broadcast destinations.
type ezspLayer struct {
	ash    *ashLayer
	logger zerolog.Logger
	seq    uint8
	seqMu  sync.Mutex

	extendedFormat bool

	responseChan map[uint16]chan []byte
	responseMu   sync.Mutex

	callbackHandler func(frameID uint16, data []byte)
	callbackMu      sync.RWMutex

	stopChan chan struct{}
}

func newEZSPLayer(ash *ashLayer, logger zerolog.Logger) *ezspLayer {
	return &ezspLayer{
		ash:          ash,
		logger:       logger,
		responseChan: make(map[uint16]chan []byte),
		stopChan:     make(chan struct{}),
	}
}

func (e *ezspLayer) Start() { go e.readLoop() }

func (e *ezspLayer) SetCallbackHandler(handler func(frameID uint16, data []byte)) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.callbackHandler = handler
}

func (e *ezspLayer) Close() { close(e.stopChan) }

// SendCommand sends an EZSP command and waits for the response.
func (e *ezspLayer) SendCommand(frameID uint16, params []byte) ([]byte, error) {
	e.seqMu.Lock()
	seq := e.seq
	e.seq++
	e.seqMu.Unlock()

	ch := make(chan []byte, 1)
	e.responseMu.Lock()
	e.responseChan[frameID] = ch
	e.responseMu.Unlock()

	defer func() {
		e.responseMu.Lock()
		delete(e.responseChan, frameID)
		e.responseMu.Unlock()
	}()

	var frame []byte
	if e.extendedFormat {
		frame = make([]byte, 0, 5+len(params))
		frame = append(frame, seq)
		frame = append(frame, 0x01, 0x00)
		frame = append(frame, byte(frameID), byte(frameID>>8))
		frame = append(frame, params...)
	} else {
		frame = make([]byte, 0, 3+len(params))
		frame = append(frame, seq)
		frame = append(frame, 0x00)
		frame = append(frame, byte(frameID))
		frame = append(frame, params...)
	}

	e.logger.Debug().
		Uint8("seq", seq).
		Uint16("frame_id", frameID).
		Int("params_len", len(params)).
		Msg("EZSP TX command")

	if err := e.ash.SendData(frame); err != nil {
		return nil, fmt.Errorf("send EZSP command 0x%04X: %w", frameID, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("timeout waiting for EZSP response 0x%04X", frameID)
	case <-e.stopChan:
		return nil, fmt.Errorf("stopped")
	}
}

func (e *ezspLayer) readLoop() {
	for {
		select {
		case <-e.stopChan:
			return
		case data := <-e.ash.RecvData():
			e.processFrame(data)
		}
	}
}

func (e *ezspLayer) processFrame(data []byte) {
	var frameID uint16
	var params []byte
	var isCallback bool

	if e.extendedFormat {
		if len(data) < 5 {
			e.logger.Debug().Int("len", len(data)).Msg("EZSP frame too short (extended)")
			return
		}
		frameID = binary.LittleEndian.Uint16(data[3:5])
		params = data[5:]
		isCallback = isCallbackFrameID(frameID)
	} else {
		if len(data) < 3 {
			e.logger.Debug().Int("len", len(data)).Msg("EZSP frame too short (legacy)")
			return
		}
		frameControl := data[1]
		frameID = uint16(data[2])
		params = data[3:]
		isCallback = frameControl&0x04 != 0
	}

	e.logger.Debug().
		Uint16("frame_id", frameID).
		Bool("callback", isCallback).
		Int("params_len", len(params)).
		Str("raw_hex", hex.EncodeToString(data)).
		Msg("EZSP RX frame")

	if isCallback {
		e.callbackMu.RLock()
		handler := e.callbackHandler
		e.callbackMu.RUnlock()
		if handler != nil {
			handler(frameID, params)
		}
		return
	}

	e.responseMu.Lock()
	ch, ok := e.responseChan[frameID]
	e.responseMu.Unlock()
	if ok {
		select {
		case ch <- params:
		default:
		}
	}
}

func isCallbackFrameID(id uint16) bool {
	switch id {
	case ezspTrustCenterJoinHandler, ezspIncomingMessageHandler, ezspMessageSentHandler, ezspStackStatusHandler:
		return true
	default:
		return false
	}
}

// NegotiateVersion sends the EZSP version command and validates the
// response, retrying with the NCP's supported version on mismatch.
func (e *ezspLayer) NegotiateVersion() (protocolVersion, stackType uint8, stackVersion uint16, err error) {
	desiredVersion := uint8(ezspProtocolVersion)

	e.seqMu.Lock()
	e.seq = 0
	e.seqMu.Unlock()

	resp, err := e.SendCommand(ezspVersion, []byte{desiredVersion})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("version negotiation: %w", err)
	}

	if len(resp) == 1 {
		ncpVersion := resp[0]
		e.logger.Info().
			Uint8("requested", desiredVersion).
			Uint8("ncp_supports", ncpVersion).
			Msg("EZSP version mismatch, retrying with NCP version")

		if ncpVersion >= 8 {
			e.extendedFormat = true
		}

		resp, err = e.SendCommand(ezspVersion, []byte{ncpVersion})
		if err != nil {
			return 0, 0, 0, fmt.Errorf("version negotiation retry: %w", err)
		}
	}

	if len(resp) < 4 {
		return 0, 0, 0, fmt.Errorf("version response too short: %d bytes (raw: 0x%s)", len(resp), hex.EncodeToString(resp))
	}

	protocolVersion = resp[0]
	stackType = resp[1]
	stackVersion = binary.LittleEndian.Uint16(resp[2:4])

	if protocolVersion >= 8 {
		e.extendedFormat = true
	}

	e.logger.Info().
		Uint8("protocol", protocolVersion).
		Uint8("stack_type", stackType).
		Uint16("stack_version", stackVersion).
		Msg("EZSP version negotiated")

	return protocolVersion, stackType, stackVersion, nil
}

func (e *ezspLayer) SetConfigValue(configID uint8, value uint16) error {
	params := []byte{configID, byte(value), byte(value >> 8)}
	resp, err := e.SendCommand(ezspSetConfigurationValue, params)
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != emberSuccess {
		return fmt.Errorf("setConfigurationValue 0x%02X failed: status 0x%02X", configID, statusByte(resp))
	}
	return nil
}

// ConfigureStack sets up the NCP stack configuration for a coordinator.
func (e *ezspLayer) ConfigureStack() error {
	configs := []struct {
		id    uint8
		value uint16
	}{
		{ezspConfigStackProfile, 2},
		{ezspConfigSecurityLevel, 5},
		{ezspConfigMaxEndDeviceChildren, 32},
		{ezspConfigAddressTableSize, 16},
		{ezspConfigSourceRouteTableSize, 16},
		{ezspConfigMaxHops, 30},
	}
	for _, cfg := range configs {
		if err := e.SetConfigValue(cfg.id, cfg.value); err != nil {
			e.logger.Warn().Err(err).Uint8("config_id", cfg.id).Msg("config value set failed (non-fatal)")
		}
	}
	return nil
}

func (e *ezspLayer) NetworkInit() (uint8, error) {
	resp, err := e.SendCommand(ezspNetworkInit, []byte{0x00, 0x00})
	if err != nil {
		return 0, err
	}
	if len(resp) < 1 {
		return 0, fmt.Errorf("networkInit response empty")
	}
	return resp[0], nil
}

func (e *ezspLayer) FormNetwork(channel uint8, panID uint16, extPanID [8]byte) error {
	params := make([]byte, 0, 21)
	params = append(params, extPanID[:]...)
	params = append(params, byte(panID), byte(panID>>8))
	params = append(params, 3)
	params = append(params, channel)
	params = append(params, 0x00)
	params = append(params, 0xFF, 0xFF)
	params = append(params, 0x00)
	params = append(params, 0x00, 0x00, 0x00, 0x00)

	resp, err := e.SendCommand(ezspFormNetwork, params)
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != emberSuccess {
		return fmt.Errorf("formNetwork failed: status 0x%02X", statusByte(resp))
	}

	e.logger.Info().Uint8("channel", channel).Uint16("pan_id", panID).Msg("network formed")
	return nil
}

func (e *ezspLayer) PermitJoining(duration uint8) error {
	resp, err := e.SendCommand(ezspPermitJoining, []byte{duration})
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != emberSuccess {
		return fmt.Errorf("permitJoining failed: status 0x%02X", statusByte(resp))
	}
	return nil
}

func (e *ezspLayer) GetEUI64() ([8]byte, error) {
	resp, err := e.SendCommand(ezspGetEUI64, nil)
	if err != nil {
		return [8]byte{}, err
	}
	if len(resp) < 8 {
		return [8]byte{}, fmt.Errorf("EUI64 response too short: %d bytes", len(resp))
	}
	var eui [8]byte
	copy(eui[:], resp[:8])
	return eui, nil
}

// SendUnicast sends a unicast application message to a device.
func (e *ezspLayer) SendUnicast(nodeID uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte) error {
	apsFrame := buildAPSFrame(profileID, clusterID, srcEndpoint, dstEndpoint)

	params := make([]byte, 0, 4+len(apsFrame)+2+len(payload))
	params = append(params, 0x00) // EMBER_OUTGOING_DIRECT
	params = append(params, byte(nodeID), byte(nodeID>>8))
	params = append(params, apsFrame...)
	params = append(params, 0x01)
	params = append(params, byte(len(payload)))
	params = append(params, payload...)

	resp, err := e.SendCommand(ezspSendUnicast, params)
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != emberSuccess {
		return fmt.Errorf("sendUnicast failed: status 0x%02X", statusByte(resp))
	}
	return nil
}

// SendBroadcast sends a broadcast application message to a PAN-wide or
// group destination.
func (e *ezspLayer) SendBroadcast(destination uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte) error {
	apsFrame := buildAPSFrame(profileID, clusterID, srcEndpoint, dstEndpoint)

	params := make([]byte, 0, 6+len(apsFrame)+2+len(payload))
	params = append(params, byte(destination), byte(destination>>8))
	params = append(params, apsFrame...)
	params = append(params, 0x1F) // radius
	params = append(params, 0x01) // messageTag
	params = append(params, byte(len(payload)))
	params = append(params, payload...)

	resp, err := e.SendCommand(ezspSendBroadcast, params)
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != emberSuccess {
		return fmt.Errorf("sendBroadcast failed: status 0x%02X", statusByte(resp))
	}
	return nil
}

func buildAPSFrame(profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8) []byte {
	apsFrame := make([]byte, 0, 12)
	apsFrame = append(apsFrame, byte(profileID), byte(profileID>>8))
	apsFrame = append(apsFrame, byte(clusterID), byte(clusterID>>8))
	apsFrame = append(apsFrame, srcEndpoint)
	apsFrame = append(apsFrame, dstEndpoint)
	options := uint16(emberApsOptionRetry | emberApsOptionEnableRouteDiscovery)
	apsFrame = append(apsFrame, byte(options), byte(options>>8))
	apsFrame = append(apsFrame, 0x00, 0x00) // groupId
	apsFrame = append(apsFrame, 0x00)       // sequence, filled by stack
	return apsFrame
}

func statusByte(resp []byte) byte {
	if len(resp) >= 1 {
		return resp[0]
	}
	return 0xFF
}
