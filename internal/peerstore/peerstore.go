// Package peerstore implements the persisted peer-record cache
// (supplemented feature per SPEC_FULL.md §4, grounded on original_source/
// and spec §6 "Persisted state"): a durable-shaped snapshot of every
// PeerRecord this node has ever verified, keyed by overlay address, so a
// restarted node can seed hive gossip and topology without waiting for a
// fresh round of handshakes. Durable storage itself is out of scope (spec
// §1 Non-goals) — SnapshotStore is an external interface; Memory is the
// in-process reference implementation used by tests and single-process
// deployments.
package peerstore

import (
	"sync"

	"swarmnode/internal/identity"
	"swarmnode/internal/wire"
)

// SnapshotStore persists and restores verified peer records across
// restarts. Implementations are free to back this with a file, a KV
// store, or anything else — peerstore only defines the shape.
type SnapshotStore interface {
	Put(overlay identity.OverlayAddress, rec wire.PeerRecord) error
	Get(overlay identity.OverlayAddress) (wire.PeerRecord, bool, error)
	All() ([]wire.PeerRecord, error)
	Delete(overlay identity.OverlayAddress) error
}

// Memory is an in-process SnapshotStore, also usable as the hive's
// Source of known records (spec §4.9).
type Memory struct {
	mu      sync.RWMutex
	records map[identity.OverlayAddress]wire.PeerRecord
}

// NewMemory constructs an empty in-memory peer-record store.
func NewMemory() *Memory {
	return &Memory{records: make(map[identity.OverlayAddress]wire.PeerRecord)}
}

func (m *Memory) Put(overlay identity.OverlayAddress, rec wire.PeerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[overlay] = rec
	return nil
}

func (m *Memory) Get(overlay identity.OverlayAddress) (wire.PeerRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[overlay]
	return rec, ok, nil
}

func (m *Memory) All() ([]wire.PeerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wire.PeerRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) Delete(overlay identity.OverlayAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, overlay)
	return nil
}

// KnownRecords implements hive.Source: it returns up to max records from
// the store, with no ordering guarantee beyond Go's map iteration (spec
// §4.9 does not require a specific gossip order).
func (m *Memory) KnownRecords(max int) []wire.PeerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if max <= 0 || max > len(m.records) {
		max = len(m.records)
	}
	out := make([]wire.PeerRecord, 0, max)
	for _, rec := range m.records {
		if len(out) == max {
			break
		}
		out = append(out, rec)
	}
	return out
}

// Count reports how many records are currently stored.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
