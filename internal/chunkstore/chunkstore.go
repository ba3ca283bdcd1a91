// Package chunkstore provides the in-process chunk storage the CLI wires
// retrieval.ChunkStore and pushsync.ChunkSink to. Storage itself is out of
// SPEC_FULL.md's scope (no durability, no garbage collection) — this is
// the minimal embedder-supplied backing the protocol shells require to run
// at all, in the same spirit as internal/peerstore's Memory.
package chunkstore

import (
	"sync"

	"swarmnode/internal/identity"
)

// Memory is a process-local map of chunk address to content, satisfying
// both retrieval.ChunkStore and pushsync.ChunkSink.
type Memory struct {
	mu     sync.RWMutex
	chunks map[identity.OverlayAddress][]byte
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{chunks: make(map[identity.OverlayAddress][]byte)}
}

// Get implements retrieval.ChunkStore.
func (m *Memory) Get(addr identity.OverlayAddress) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.chunks[addr]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Put implements pushsync.ChunkSink.
func (m *Memory) Put(addr identity.OverlayAddress, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.chunks[addr] = cp
	return nil
}

// Count reports how many chunks are currently held.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}
