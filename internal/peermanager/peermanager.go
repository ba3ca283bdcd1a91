// Package peermanager implements the peer lifecycle state machine and the
// overlay-address/transport-peer-id bridge (C8, spec §4.8). It is the only
// component that owns the mapping between a swarm overlay address and the
// underlying libp2p peer.ID, and the only component that can ban a peer.
package peermanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"swarmnode/internal/identity"
)

// DefaultShortBanDuration is applied for recoverable protocol faults (spec
// §4.8 "short vs long ban").
const DefaultShortBanDuration = 5 * time.Minute

// DefaultLongBanDuration is applied for repeated or severe violations.
const DefaultLongBanDuration = 24 * time.Hour

// Config configures a Manager.
type Config struct {
	ShortBanDuration time.Duration
	LongBanDuration  time.Duration
	ScoreWeights     ScoreWeights

	// OnReady is invoked once a peer reaches StateAuthenticated (spec §6
	// "PeerManager::on_peer_ready").
	OnReady func(identity.OverlayAddress)
	// OnDisconnected is invoked when an authenticated peer drops back to
	// Known (spec §6 "PeerManager::on_peer_disconnected").
	OnDisconnected func(identity.OverlayAddress)
}

// Manager tracks every known peer's lifecycle state, its overlay<->peer.ID
// binding, and its ban status. The overlay->entry map and the
// peerID->overlay bridge share one RWMutex since they are always mutated
// together (binding/unbinding happens at the same instants as state
// transitions into/out of Connecting).
type Manager struct {
	mu          sync.RWMutex
	byOverlay   map[identity.OverlayAddress]*entry
	byTransport map[peer.ID]identity.OverlayAddress
	ipBans      map[string]time.Time

	cfg Config
}

// New constructs a Manager, defaulting unset Config fields.
func New(cfg Config) *Manager {
	if cfg.ShortBanDuration == 0 {
		cfg.ShortBanDuration = DefaultShortBanDuration
	}
	if cfg.LongBanDuration == 0 {
		cfg.LongBanDuration = DefaultLongBanDuration
	}
	if cfg.ScoreWeights == (ScoreWeights{}) {
		cfg.ScoreWeights = DefaultScoreWeights
	}
	return &Manager{
		byOverlay:   make(map[identity.OverlayAddress]*entry),
		byTransport: make(map[peer.ID]identity.OverlayAddress),
		ipBans:      make(map[string]time.Time),
		cfg:         cfg,
	}
}

func (m *Manager) getOrCreate(overlay identity.OverlayAddress) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byOverlay[overlay]
	if !ok {
		e = newEntry()
		m.byOverlay[overlay] = e
	}
	return e
}

// Resolve looks up the overlay address bound to a transport peer id (spec
// §4.8 "overlay<->transport-peer-id bridge").
func (m *Manager) Resolve(id peer.ID) (identity.OverlayAddress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byTransport[id]
	return o, ok
}

// BindTransport records the transport peer id for an overlay once a dial
// or inbound connection is established, entering StateConnecting.
func (m *Manager) BindTransport(overlay identity.OverlayAddress, id peer.ID, ip string) error {
	e := m.getOrCreate(overlay)
	if e.isBanned() {
		return fmt.Errorf("peermanager: overlay %s is banned", overlay)
	}
	if m.isIPBanned(ip) {
		return fmt.Errorf("peermanager: ip %s is banned", ip)
	}
	if !e.transition(StateConnecting) {
		cur, _ := e.currentState()
		return fmt.Errorf("peermanager: cannot connect overlay %s from state %s", overlay, cur)
	}
	e.mu.Lock()
	e.transportID = id
	e.ip = ip
	e.mu.Unlock()

	m.mu.Lock()
	m.byTransport[id] = overlay
	m.mu.Unlock()
	return nil
}

// OnHandshaking marks a connecting peer as performing the handshake.
func (m *Manager) OnHandshaking(overlay identity.OverlayAddress) error {
	e := m.getOrCreate(overlay)
	if !e.transition(StateHandshaking) {
		cur, _ := e.currentState()
		return fmt.Errorf("peermanager: cannot start handshake for overlay %s from state %s", overlay, cur)
	}
	return nil
}

// OnAuthenticated marks a peer authenticated and fires OnReady (spec §6).
func (m *Manager) OnAuthenticated(overlay identity.OverlayAddress) error {
	e := m.getOrCreate(overlay)
	if !e.transition(StateAuthenticated) {
		cur, _ := e.currentState()
		return fmt.Errorf("peermanager: cannot authenticate overlay %s from state %s", overlay, cur)
	}
	if m.cfg.OnReady != nil {
		m.cfg.OnReady(overlay)
	}
	return nil
}

// OnDisconnected drops a peer back to Known and unbinds its transport id,
// firing OnDisconnected (spec §6).
func (m *Manager) OnDisconnected(overlay identity.OverlayAddress) {
	e := m.getOrCreate(overlay)
	wasAuthenticated, _ := e.currentState()

	e.mu.Lock()
	id := e.transportID
	e.transportID = ""
	e.mu.Unlock()
	e.transition(StateKnown)

	m.mu.Lock()
	if id != "" {
		delete(m.byTransport, id)
	}
	m.mu.Unlock()

	if wasAuthenticated == StateAuthenticated && m.cfg.OnDisconnected != nil {
		m.cfg.OnDisconnected(overlay)
	}
}

// Ban bans a peer, scoped to both its overlay address and its IP
// independently (spec §4.8: "scoped to overlay AND IP independently") so
// an attacker cycling overlay identities from the same address, or
// cycling addresses behind the same overlay identity, is still caught.
func (m *Manager) Ban(overlay identity.OverlayAddress, long bool) {
	e := m.getOrCreate(overlay)
	duration := m.cfg.ShortBanDuration
	if long {
		duration = m.cfg.LongBanDuration
	}
	until := time.Now().Add(duration)
	e.ban(until)

	e.mu.Lock()
	ip := e.ip
	e.mu.Unlock()
	if ip != "" {
		m.mu.Lock()
		m.ipBans[ip] = until
		m.mu.Unlock()
	}
}

func (m *Manager) isIPBanned(ip string) bool {
	if ip == "" {
		return false
	}
	m.mu.RLock()
	until, ok := m.ipBans[ip]
	m.mu.RUnlock()
	return ok && time.Now().Before(until)
}

// IsBanned reports whether overlay is currently banned.
func (m *Manager) IsBanned(overlay identity.OverlayAddress) bool {
	m.mu.RLock()
	e, ok := m.byOverlay[overlay]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return e.isBanned()
}

// State returns a peer's current lifecycle state.
func (m *Manager) State(overlay identity.OverlayAddress) State {
	m.mu.RLock()
	e, ok := m.byOverlay[overlay]
	m.mu.RUnlock()
	if !ok {
		return StateKnown
	}
	s, _ := e.currentState()
	return s
}

// RecordSuccess/RecordFailure/RecordProtocolViolation feed the atomic
// scoring counters (spec §4.8 "atomic per-peer scoring events"); each is
// lock-free beyond the one-time map lookup.
func (m *Manager) RecordSuccess(overlay identity.OverlayAddress) {
	m.getOrCreate(overlay).recordSuccess()
}

func (m *Manager) RecordFailure(overlay identity.OverlayAddress) {
	m.getOrCreate(overlay).recordFailure()
}

func (m *Manager) RecordProtocolViolation(overlay identity.OverlayAddress) {
	m.getOrCreate(overlay).recordViolation()
}

// TransportOf returns the transport peer id currently bound to overlay,
// the inverse lookup of Resolve (spec §4.8 "overlay<->transport-peer-id
// bridge" works both directions).
func (m *Manager) TransportOf(overlay identity.OverlayAddress) (peer.ID, bool) {
	e, ok := m.byOverlayEntry(overlay)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	id := e.transportID
	e.mu.Unlock()
	if id == "" {
		return "", false
	}
	return id, true
}

func (m *Manager) byOverlayEntry(overlay identity.OverlayAddress) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byOverlay[overlay]
	return e, ok
}

// Score returns a peer's current weighted score.
func (m *Manager) Score(overlay identity.OverlayAddress) float64 {
	return m.getOrCreate(overlay).score(m.cfg.ScoreWeights)
}
