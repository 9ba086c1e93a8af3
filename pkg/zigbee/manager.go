package zigbee

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger overrides the default (disabled) logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithPersistence installs a state-persistence adapter (spec §6). Without
// one, the manager starts empty every time and discards its mesh model on
// shutdown.
func WithPersistence(p Persistence) Option {
	return func(m *Manager) { m.mesh.persistence = p }
}

// WithAttributeValidator installs a validator consulted by Write before a
// ZCL attribute write is sent (spec "Supplemented features": attribute
// write validation).
func WithAttributeValidator(v AttributeValidator) Option {
	return func(m *Manager) { m.attrValidator = v }
}

// AttributeValidator validates a proposed attribute write value before it
// is encoded and sent (spec "Supplemented features").
type AttributeValidator interface {
	Validate(cluster ClusterID, attribute uint16, value []byte) error
}

// Manager is the ZigBee Network Manager (spec §1, §2): the single hub
// wiring lifecycle, mesh model, event dispatcher, request correlator,
// frame pipeline, and a caller-supplied transport and persistence adapter.
//
// Grounded on the teacher's Controller (urmzd-homai pkg/zigbee/controller.go),
// which plays the same hub role over its own EZSP/ASH stack; generalized
// here to depend on the Transport interface instead of a concrete EZSP
// layer, and to split the controller's monolithic responsibilities across
// the lifecycle/Mesh/Dispatcher/Correlator/framePipeline collaborators.
type Manager struct {
	logger zerolog.Logger

	lifecycle  *lifecycle
	mesh       *Mesh
	dispatcher *Dispatcher
	correlator *Correlator
	pipeline   *framePipeline

	transport     Transport
	attrValidator AttributeValidator
}

// NewManager constructs a Manager around transport using the given ZCL and
// ZDO command registries. The manager is Uninitialized until Initialize is
// called.
func NewManager(transport Transport, zclRegistry, zdoRegistry Registry, opts ...Option) *Manager {
	logger := zerolog.Nop()
	dispatcher := newDispatcher(logger)
	correlator := newCorrelator(logger)
	pipeline := newFramePipeline(logger, zclRegistry, zdoRegistry, correlator, dispatcher)

	m := &Manager{
		logger:     logger,
		lifecycle:  newLifecycle(),
		mesh:       newMesh(dispatcher),
		dispatcher: dispatcher,
		correlator: correlator,
		pipeline:   pipeline,
		transport:  transport,
	}
	m.mesh.manager = m

	for _, opt := range opts {
		opt(m)
	}

	m.dispatcher.logger = m.logger.With().Str("component", "dispatcher").Logger()
	m.correlator.logger = m.logger.With().Str("component", "correlator").Logger()
	m.pipeline.logger = m.logger.With().Str("component", "framepipeline").Logger()
	m.pipeline.setTransport(transport)
	transport.SetReceiver(ReceiverFunc(m.ReceiveFrame))

	return m
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State { return m.lifecycle.current() }

// SetChannel validates and stores the operating channel (spec §4.1). Legal
// only in Initialized.
func (m *Manager) SetChannel(channel uint8) error { return m.lifecycle.SetChannel(channel) }

// SetPANID validates and stores the PAN id (spec §4.1). Legal only in
// Initialized.
func (m *Manager) SetPANID(panID uint16) error { return m.lifecycle.SetPANID(panID) }

// SetExtendedPANID validates and stores the extended PAN id (spec §4.1).
// Legal only in Initialized.
func (m *Manager) SetExtendedPANID(extendedPANID uint64) error {
	return m.lifecycle.SetExtendedPANID(extendedPANID)
}

// SetNetworkKey stores the network key (spec §4.1). Legal only in
// Initialized.
func (m *Manager) SetNetworkKey(key [16]byte) error { return m.lifecycle.SetNetworkKey(key) }

// Initialize moves the manager from Uninitialized to Initialized, loading
// the mesh model from the persistence adapter if one is installed (spec
// §3).
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.lifecycle.transition(StateInitialized); err != nil {
		return err
	}
	if m.mesh.persistence != nil {
		m.mesh.beginLoad()
		err := m.mesh.persistence.Deserialize(m)
		m.mesh.endLoad()
		if err != nil {
			return fmt.Errorf("initialize: deserialize mesh model: %w", err)
		}
	}
	m.logger.Info().Msg("manager initialized")
	return nil
}

// Startup moves the manager from Initialized through Starting to Running:
// it opens the transport and forms the network using the lifecycle's
// configured network parameters (spec §3, §4.1). reinitialize selects
// between resuming a network the radio already holds in nonvolatile memory
// (false) and discarding it to form fresh with the configured parameters
// (true).
func (m *Manager) Startup(ctx context.Context, reinitialize bool) error {
	if err := m.lifecycle.transition(StateStarting); err != nil {
		return err
	}
	if err := m.transport.Open(ctx); err != nil {
		return fmt.Errorf("startup: open transport: %w", err)
	}
	cfg := m.lifecycle.networkConfig()
	cfg.Reinitialize = reinitialize
	if err := m.transport.FormNetwork(ctx, cfg); err != nil {
		return fmt.Errorf("startup: form network: %w", err)
	}
	m.pipeline.setOwnAddress(0x0000) // coordinator is always network address 0x0000
	if err := m.lifecycle.transition(StateRunning); err != nil {
		return err
	}
	m.logger.Info().Uint8("channel", cfg.Channel).Uint16("pan_id", cfg.PANID).Msg("network manager running")
	return nil
}

// Shutdown moves the manager from Running through ShuttingDown to Stopped,
// persisting the mesh model one final time and closing the transport and
// correlator (spec §3).
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.lifecycle.transition(StateShuttingDown); err != nil {
		return err
	}
	if m.mesh.persistence != nil {
		if err := m.mesh.persistence.Serialize(m); err != nil {
			m.logger.Warn().Err(err).Msg("shutdown: final persistence save failed")
		}
	}
	m.correlator.close()
	m.dispatcher.close()
	closeErr := m.transport.Close()
	if err := m.lifecycle.transition(StateStopped); err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("shutdown: close transport: %w", closeErr)
	}
	m.logger.Info().Msg("manager stopped")
	return nil
}

// Mesh returns the mesh model for read access (spec §4.6). Snapshots
// returned from it are point-in-time copies.
func (m *Manager) Mesh() *Mesh { return m.mesh }

// OnNode, OnDevice, OnState, OnAnnounce, and OnCommand register listeners
// on the event dispatcher and return a func that deregisters them (spec
// §4.7: "registration and deregistration").
func (m *Manager) OnNode(fn NodeListener) func()         { return m.dispatcher.OnNode(fn) }
func (m *Manager) OnDevice(fn DeviceListener) func()     { return m.dispatcher.OnDevice(fn) }
func (m *Manager) OnState(fn StateListener) func()       { return m.dispatcher.OnState(fn) }
func (m *Manager) OnAnnounce(fn AnnounceListener) func() { return m.dispatcher.OnAnnounce(fn) }
func (m *Manager) OnCommand(fn CommandListener) func()   { return m.dispatcher.OnCommand(fn) }

// ReceiveFrame implements Receiver: every inbound APS frame the transport
// delivers is parsed, offered to the correlator, fanned out as a
// CommandEvent, and — for recognized ZDO announcements and ZCL attribute
// reports — folded into the mesh model (spec §4.4, §4.7).
func (m *Manager) ReceiveFrame(frame APSFrame) {
	cmd, err := m.pipeline.parse(frame)
	if err != nil {
		m.logger.Debug().Err(err).Uint16("cluster", uint16(frame.ClusterID)).Msg("dropping unparseable inbound frame")
		return
	}

	m.correlator.deliver(cmd)
	m.dispatcher.fireCommand(CommandEvent{Command: cmd})
	m.foldIntoMesh(cmd, frame)
}

// foldIntoMesh applies the narrow set of inbound commands that update mesh
// model state as a side effect of observation, independent of whether any
// pending request was waiting on them (spec §4.4, §4.8): End Device
// Announce updates/adds the announcing node, and attribute report/response
// payloads fire a StateEvent.
func (m *Manager) foldIntoMesh(cmd Command, frame APSFrame) {
	const zdoEndDeviceAnnounce ClusterID = 0x0013
	if cmd.Kind == KindZDO && cmd.ClusterID == zdoEndDeviceAnnounce {
		r := NewReader(cmd.Payload)
		nwk, err1 := r.GetUint16()
		ieee, err2 := r.GetUint64()
		capability, err3 := r.GetUint8()
		if err1 == nil && err2 == nil && err3 == nil {
			addr := NetworkAddress(nwk)
			m.mesh.UpdateNode(Node{NetworkAddress: addr, IEEEAddress: IEEEAddress(ieee)})
			m.dispatcher.fireAnnounce(AnnounceEvent{NetworkAddress: addr, IEEEAddress: IEEEAddress(ieee), Capability: capability})
		}
		return
	}
	if cmd.Kind == KindZCL && cmd.Generic {
		const cmdReadAttributesResponse uint8 = 0x01
		const cmdReportAttributes uint8 = 0x0A
		if cmd.CommandID == cmdReadAttributesResponse || cmd.CommandID == cmdReportAttributes {
			m.dispatcher.fireState(StateEvent{
				Device:    DeviceAddress{NetworkAddress: frame.SourceAddr, Endpoint: frame.SourceEP},
				ClusterID: cmd.ClusterID,
				Value:     cmd.Payload,
			})
		}
	}
}

// send transmits cmd and waits for a response accepted by matcher, or
// ErrTimeout if none arrives within the request timeout ceiling (spec
// §4.5).
func (m *Manager) send(ctx context.Context, cmd *Command, matcher Matcher) (Command, error) {
	if err := m.lifecycle.requireState(StateRunning); err != nil {
		return Command{}, err
	}
	frame, err := m.pipeline.build(cmd)
	if err != nil {
		return Command{}, err
	}

	id, resultCh := m.correlator.register(matcher)
	if err := m.transport.Send(ctx, frame); err != nil {
		m.correlator.cancel(id, err)
		return Command{}, fmt.Errorf("send: %w", err)
	}

	result := waitResult(ctx, resultCh)
	if result.Err != nil {
		return Command{}, result.Err
	}
	if result.IsEmpty() {
		return Command{}, ErrTimeout
	}
	return *result.Command, nil
}

// broadcast transmits cmd without waiting for a correlated response (spec
// §4.5): fire-and-forget, used for broadcast destinations such as Mgmt
// Permit Joining Request.
func (m *Manager) broadcast(ctx context.Context, cmd *Command) error {
	if err := m.lifecycle.requireState(StateRunning); err != nil {
		return err
	}
	frame, err := m.pipeline.build(cmd)
	if err != nil {
		return err
	}
	if err := m.transport.Send(ctx, frame); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}
