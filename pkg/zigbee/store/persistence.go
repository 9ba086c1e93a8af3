package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
)

// Adapter implements zigbee.Persistence (spec §6) against a SQLite-backed
// network state snapshot. Deserialize loads the whole snapshot into the
// mesh model once, at Manager.Initialize; Serialize rewrites it wholesale,
// called after every mesh-model mutation and once more at shutdown (spec §3
// Lifecycles, §4.6).
type Adapter struct {
	db *DB
}

// OpenAdapter opens (creating if absent) the SQLite database at path and
// migrates it to the current schema, returning an Adapter ready to use as a
// zigbee.Persistence.
func OpenAdapter(path string) (*Adapter, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Adapter{db: db}, nil
}

// Close closes the underlying database connection.
func (a *Adapter) Close() error { return a.db.Close() }

// Deserialize loads the persisted nodes, devices, and groups into m's mesh
// model (spec §6 "deserialize(manager) populates the mesh model during
// initialize"). Loading goes through Mesh's Add* methods, which are no-ops on
// an already-populated key, so repeated calls are safe.
func (a *Adapter) Deserialize(m *zigbee.Manager) error {
	ctx := context.Background()
	mesh := m.Mesh()

	nodeRows, err := a.db.QueryContext(ctx, `SELECT network_address, ieee_address, role FROM nodes`)
	if err != nil {
		return fmt.Errorf("store: query nodes: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var nwk, ieee int64
		var role string
		if err := nodeRows.Scan(&nwk, &ieee, &role); err != nil {
			return fmt.Errorf("store: scan node: %w", err)
		}
		mesh.AddNode(zigbee.Node{
			NetworkAddress: zigbee.NetworkAddress(nwk),
			IEEEAddress:    zigbee.IEEEAddress(ieee),
			Role:           role,
		})
	}
	if err := nodeRows.Err(); err != nil {
		return fmt.Errorf("store: iterate nodes: %w", err)
	}

	deviceRows, err := a.db.QueryContext(ctx, `
		SELECT network_address, endpoint, ieee_address, profile_id, input_clusters, output_clusters
		FROM devices`)
	if err != nil {
		return fmt.Errorf("store: query devices: %w", err)
	}
	defer deviceRows.Close()
	for deviceRows.Next() {
		var nwk, ep, ieee, profile int64
		var inputJSON, outputJSON string
		if err := deviceRows.Scan(&nwk, &ep, &ieee, &profile, &inputJSON, &outputJSON); err != nil {
			return fmt.Errorf("store: scan device: %w", err)
		}
		input, err := decodeClusterList(inputJSON)
		if err != nil {
			return fmt.Errorf("store: decode input clusters: %w", err)
		}
		output, err := decodeClusterList(outputJSON)
		if err != nil {
			return fmt.Errorf("store: decode output clusters: %w", err)
		}
		mesh.AddDevice(zigbee.Device{
			Address: zigbee.DeviceAddress{
				NetworkAddress: zigbee.NetworkAddress(nwk),
				Endpoint:       zigbee.Endpoint(ep),
			},
			IEEEAddress:    zigbee.IEEEAddress(ieee),
			ProfileID:      zigbee.ProfileID(profile),
			InputClusters:  input,
			OutputClusters: output,
		})
	}
	if err := deviceRows.Err(); err != nil {
		return fmt.Errorf("store: iterate devices: %w", err)
	}

	groupRows, err := a.db.QueryContext(ctx, `SELECT id, label FROM groups`)
	if err != nil {
		return fmt.Errorf("store: query groups: %w", err)
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var id int64
		var label string
		if err := groupRows.Scan(&id, &label); err != nil {
			return fmt.Errorf("store: scan group: %w", err)
		}
		mesh.AddGroup(zigbee.Group{ID: zigbee.GroupID(id), Label: label})
	}
	return groupRows.Err()
}

// Serialize rewrites the whole network state snapshot from m's mesh model
// (spec §6 "serialize(manager) is invoked on shutdown and after each
// mesh-model mutation"). The whole snapshot is replaced inside one
// transaction so a concurrent Deserialize (there is none in this version,
// but a future reader of the file) never observes a half-written table set.
func (a *Adapter) Serialize(m *zigbee.Manager) error {
	ctx := context.Background()
	mesh := m.Mesh()
	nodes := mesh.Nodes()
	devices := mesh.Devices()
	groups := mesh.Groups()

	return a.db.Tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"nodes", "devices", "groups"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, n := range nodes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO nodes (network_address, ieee_address, role) VALUES (?, ?, ?)`,
				int64(n.NetworkAddress), int64(n.IEEEAddress), n.Role,
			); err != nil {
				return fmt.Errorf("insert node: %w", err)
			}
		}
		for _, d := range devices {
			inputJSON, err := encodeClusterList(d.InputClusters)
			if err != nil {
				return fmt.Errorf("encode input clusters: %w", err)
			}
			outputJSON, err := encodeClusterList(d.OutputClusters)
			if err != nil {
				return fmt.Errorf("encode output clusters: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO devices (network_address, endpoint, ieee_address, profile_id, input_clusters, output_clusters)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				int64(d.Address.NetworkAddress), int64(d.Address.Endpoint), int64(d.IEEEAddress),
				int64(d.ProfileID), inputJSON, outputJSON,
			); err != nil {
				return fmt.Errorf("insert device: %w", err)
			}
		}
		for _, g := range groups {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO groups (id, label) VALUES (?, ?)`,
				int64(g.ID), g.Label,
			); err != nil {
				return fmt.Errorf("insert group: %w", err)
			}
		}
		return nil
	})
}

func encodeClusterList(clusters []zigbee.ClusterID) (string, error) {
	ids := make([]uint16, len(clusters))
	for i, c := range clusters {
		ids[i] = uint16(c)
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeClusterList(raw string) ([]zigbee.ClusterID, error) {
	var ids []uint16
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	clusters := make([]zigbee.ClusterID, len(ids))
	for i, id := range ids {
		clusters[i] = zigbee.ClusterID(id)
	}
	return clusters, nil
}
