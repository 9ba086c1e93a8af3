package zigbee

import "sync"

// Node is a ZigBee radio participant (spec §3). Neighbor/route tables are
// tracked by the out-of-scope mesh-monitor background task (spec §1) and
// are not modeled here beyond the fields the manager itself needs.
type Node struct {
	NetworkAddress NetworkAddress
	IEEEAddress    IEEEAddress
	Role           string
}

// Device is one endpoint instance on a node (spec §3).
type Device struct {
	Address        DeviceAddress
	IEEEAddress    IEEEAddress
	ProfileID      ProfileID
	InputClusters  []ClusterID
	OutputClusters []ClusterID
}

// Group is a ZigBee multicast group (spec §3).
type Group struct {
	ID    GroupID
	Label string
}

// Persistence is the state-persistence adapter contract (spec §6). The
// on-disk format is opaque to the core; deserialize populates the mesh
// model during initialize(), serialize is invoked on shutdown and after
// every mesh-model mutation.
type Persistence interface {
	Deserialize(m *Manager) error
	Serialize(m *Manager) error
}

// mutationKind distinguishes the three mutation outcomes a store reports,
// mirroring spec §4.6's add/update/remove semantics: add is a no-op (no
// event) if the key already exists, update always replaces and fires, and
// remove fires only if the key was present.
type mutationKind uint8

const (
	mutationNone mutationKind = iota
	mutationAdded
	mutationUpdated
	mutationRemoved
)

// store is a generically-keyed map with the add/update/remove/get/snapshot
// operations spec §4.6 requires of the node/device/group maps. It owns a
// single mutex per spec §5 ("each mutable container ... has a single owner
// lock"); mutation methods report what happened so callers can fire the
// right listener event and persistence save without holding the lock during
// those side effects.
type store[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]V
}

func newStore[K comparable, V any]() *store[K, V] {
	return &store[K, V]{data: make(map[K]V)}
}

// add inserts v under key if absent. No-op (mutationNone) if key is already
// present, to prevent duplicate notifications (spec §4.6).
func (s *store[K, V]) add(key K, v V) mutationKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return mutationNone
	}
	s.data[key] = v
	return mutationAdded
}

// update unconditionally replaces the value at key and always reports
// mutationUpdated (spec §4.6), even for a key that did not previously exist
// — "update" accepts upsert semantics, matching the teacher's devicesMu
// write path in pkg/zigbee/controller.go (urmzd-homai).
func (s *store[K, V]) update(key K, v V) mutationKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	return mutationUpdated
}

// remove deletes key if present, reporting mutationRemoved only then (spec
// §4.6: "remove fires removed only if present").
func (s *store[K, V]) remove(key K) mutationKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists {
		return mutationNone
	}
	delete(s.data, key)
	return mutationRemoved
}

// get returns the value at key and whether it was present.
func (s *store[K, V]) get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// snapshot returns a point-in-time copy of all values (spec §5: "Mesh-model
// snapshots returned to callers are point-in-time copies; subsequent
// mutations do not affect them").
func (s *store[K, V]) snapshot() []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]V, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	return out
}

// Mesh is the authoritative in-memory model of nodes, devices, and groups
// (spec §2 component 3, §3, §4.6). It fans out node/device mutations
// through the event dispatcher and triggers a persistence save on every
// mutation when an adapter is installed (spec §3 Lifecycles).
type Mesh struct {
	nodes   *store[NetworkAddress, Node]
	devices *store[DeviceAddress, Device]
	groups  *store[GroupID, Group]

	dispatcher  *Dispatcher
	persistence Persistence
	manager     *Manager // back-reference passed to Persistence.Serialize/Deserialize

	// loading suppresses save() while a Persistence.Deserialize call is
	// populating the mesh: nodes, devices, and groups load in three
	// sequential passes, and a save() triggered after the node pass (before
	// the device/group passes run) would rewrite the devices/groups tables
	// from a still-empty in-memory snapshot, destroying them on disk.
	loading bool
}

func newMesh(dispatcher *Dispatcher) *Mesh {
	return &Mesh{
		nodes:      newStore[NetworkAddress, Node](),
		devices:    newStore[DeviceAddress, Device](),
		groups:     newStore[GroupID, Group](),
		dispatcher: dispatcher,
	}
}

func (m *Mesh) save() {
	if m.loading || m.persistence == nil || m.manager == nil {
		return
	}
	if err := m.persistence.Serialize(m.manager); err != nil {
		m.dispatcher.log().Warn().Err(err).Msg("mesh: persistence save failed")
	}
}

// beginLoad and endLoad bracket a Persistence.Deserialize call, suppressing
// save() for its duration (see the loading field doc).
func (m *Mesh) beginLoad() { m.loading = true }
func (m *Mesh) endLoad()   { m.loading = false }

// AddNode inserts n if its network address is unseen; no-op and no event
// otherwise (spec §8 idempotence property).
func (m *Mesh) AddNode(n Node) {
	if m.nodes.add(n.NetworkAddress, n) == mutationAdded {
		m.dispatcher.fireNode(NodeEvent{Kind: EventAdded, Node: n})
		m.save()
	}
}

// UpdateNode unconditionally replaces the node at n's network address.
func (m *Mesh) UpdateNode(n Node) {
	m.nodes.update(n.NetworkAddress, n)
	m.dispatcher.fireNode(NodeEvent{Kind: EventUpdated, Node: n})
	m.save()
}

// RemoveNode removes the node at addr, firing a removal event only if it
// was present.
func (m *Mesh) RemoveNode(addr NetworkAddress) {
	if n, ok := m.nodes.get(addr); ok && m.nodes.remove(addr) == mutationRemoved {
		m.dispatcher.fireNode(NodeEvent{Kind: EventRemoved, Node: n})
		m.save()
	}
}

// GetNode returns the node at addr, if known.
func (m *Mesh) GetNode(addr NetworkAddress) (Node, bool) { return m.nodes.get(addr) }

// Nodes returns a point-in-time snapshot of all known nodes.
func (m *Mesh) Nodes() []Node { return m.nodes.snapshot() }

// AddDevice inserts d if its device address is unseen.
func (m *Mesh) AddDevice(d Device) {
	if m.devices.add(d.Address, d) == mutationAdded {
		m.dispatcher.fireDevice(DeviceEvent{Kind: EventAdded, Device: d})
		m.save()
	}
}

// UpdateDevice unconditionally replaces the device at d's address.
func (m *Mesh) UpdateDevice(d Device) {
	m.devices.update(d.Address, d)
	m.dispatcher.fireDevice(DeviceEvent{Kind: EventUpdated, Device: d})
	m.save()
}

// RemoveDevice removes the device at addr, firing a removal event only if
// it was present.
func (m *Mesh) RemoveDevice(addr DeviceAddress) {
	if d, ok := m.devices.get(addr); ok && m.devices.remove(addr) == mutationRemoved {
		m.dispatcher.fireDevice(DeviceEvent{Kind: EventRemoved, Device: d})
		m.save()
	}
}

// GetDevice returns the device at addr, if known.
func (m *Mesh) GetDevice(addr DeviceAddress) (Device, bool) { return m.devices.get(addr) }

// Devices returns a point-in-time snapshot of all known devices.
func (m *Mesh) Devices() []Device { return m.devices.snapshot() }

// AddGroup inserts g if its id is unseen. Group mutations are not a
// dispatcher category (spec §4.7 lists node/device/state/announce/command
// only) but still trigger a persistence save.
func (m *Mesh) AddGroup(g Group) {
	if m.groups.add(g.ID, g) == mutationAdded {
		m.save()
	}
}

// UpdateGroup unconditionally replaces the group at g's id — used by
// addMembership to relabel an existing group (spec §4.8).
func (m *Mesh) UpdateGroup(g Group) {
	m.groups.update(g.ID, g)
	m.save()
}

// RemoveGroup removes the group at id, saving only if it was present.
func (m *Mesh) RemoveGroup(id GroupID) {
	if m.groups.remove(id) == mutationRemoved {
		m.save()
	}
}

// GetGroup returns the group at id, if known.
func (m *Mesh) GetGroup(id GroupID) (Group, bool) { return m.groups.get(id) }

// Groups returns a point-in-time snapshot of all known groups.
func (m *Mesh) Groups() []Group { return m.groups.snapshot() }
