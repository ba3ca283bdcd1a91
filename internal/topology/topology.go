// Package topology implements the Kademlia-style proximity routing table
// (C7, spec §4.7): per-proximity-order bins of known and connected
// overlays, the neighborhood-depth algorithm, and the peer selection
// queries the rest of the node drives discovery and retrieval from.
package topology

import (
	"sort"
	"sync"
	"time"

	"swarmnode/internal/identity"
)

// DefaultSaturationTarget is the minimum number of connected peers a bin
// inside the neighborhood must have before it counts as saturated
// (spec §4.7).
const DefaultSaturationTarget = 4

// LightNodeBinCapDivisor caps how much of a bin's saturationTarget room a
// light (non-full) node may occupy, since light nodes carry no storage
// responsibility and a bin full of them would starve full-node admission
// (spec §4.7 "light nodes... may be capped more strictly").
const LightNodeBinCapDivisor = 2

// StaleConnectionAge is how long a connected peer must have held its slot
// before Pick is allowed to evict it to make room for a new candidate in a
// saturated bin (spec §4.7 "may evict stale peers from a saturated bin").
const StaleConnectionAge = 30 * time.Minute

// bin holds the known and connected overlays that share a given proximity
// order with the local node.
type bin struct {
	known       map[identity.OverlayAddress]struct{}
	connected   map[identity.OverlayAddress]struct{}
	connectedAt map[identity.OverlayAddress]time.Time
}

func newBin() *bin {
	return &bin{
		known:       make(map[identity.OverlayAddress]struct{}),
		connected:   make(map[identity.OverlayAddress]struct{}),
		connectedAt: make(map[identity.OverlayAddress]time.Time),
	}
}

// Table is the routing table for one local overlay address. All queries
// take a read lock; every mutation takes a write lock (spec §5 "reader
// writer lock per topology instance").
type Table struct {
	mu sync.RWMutex

	self             identity.OverlayAddress
	maxPO            int
	saturationTarget int
	bins             []*bin
}

// New constructs a routing table for the given local overlay. maxPO and
// saturationTarget default to identity.MaxPO and DefaultSaturationTarget
// when zero.
func New(self identity.OverlayAddress, maxPO, saturationTarget int) *Table {
	if maxPO == 0 {
		maxPO = identity.MaxPO
	}
	if saturationTarget == 0 {
		saturationTarget = DefaultSaturationTarget
	}
	bins := make([]*bin, maxPO+1)
	for i := range bins {
		bins[i] = newBin()
	}
	return &Table{self: self, maxPO: maxPO, saturationTarget: saturationTarget, bins: bins}
}

func (t *Table) poOf(overlay identity.OverlayAddress) int {
	po := identity.Proximity(t.self, overlay)
	if po > t.maxPO {
		po = t.maxPO
	}
	return po
}

// AddPeers records overlays as known, in the appropriate bins, without
// marking them connected (spec §4.7 "add_peers", fed by hive gossip and
// discovery).
func (t *Table) AddPeers(overlays ...identity.OverlayAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range overlays {
		if o == t.self {
			continue
		}
		t.bins[t.poOf(o)].known[o] = struct{}{}
	}
}

// MarkConnected promotes an overlay to connected (spec §4.7).
func (t *Table) MarkConnected(overlay identity.OverlayAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bins[t.poOf(overlay)]
	b.known[overlay] = struct{}{}
	b.connected[overlay] = struct{}{}
	b.connectedAt[overlay] = time.Now()
}

// MarkDisconnected demotes an overlay back to known-but-not-connected
// (spec §4.7 "disconnected").
func (t *Table) MarkDisconnected(overlay identity.OverlayAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bins[t.poOf(overlay)]
	delete(b.connected, overlay)
	delete(b.connectedAt, overlay)
}

// Remove drops an overlay from the table entirely.
func (t *Table) Remove(overlay identity.OverlayAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bins[t.poOf(overlay)]
	delete(b.known, overlay)
	delete(b.connected, overlay)
	delete(b.connectedAt, overlay)
}

// IsConnected reports whether overlay is currently marked connected.
func (t *Table) IsConnected(overlay identity.OverlayAddress) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.bins[t.poOf(overlay)].connected[overlay]
	return ok
}

// Depth computes the neighborhood depth (spec §4.7): the minimum d such
// that every bin in [d, maxPO] has at least saturationTarget connected
// peers, or maxPO when no such d exists. Candidates are checked from d = 0
// upward and the first that qualifies is returned.
func (t *Table) Depth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.depthLocked()
}

func (t *Table) depthLocked() int {
	for d := 0; d <= t.maxPO; d++ {
		saturated := true
		for po := d; po <= t.maxPO; po++ {
			if len(t.bins[po].connected) < t.saturationTarget {
				saturated = false
				break
			}
		}
		if saturated {
			return d
		}
	}
	return t.maxPO
}

// IsResponsibleFor reports whether the local node is within the
// neighborhood depth of the given overlay, i.e. one of the nodes
// responsible for storing/serving content addressed near it (spec §4.7).
func (t *Table) IsResponsibleFor(addr identity.OverlayAddress) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return identity.Proximity(t.self, addr) >= t.depthLocked()
}

// peerDistance pairs an overlay with the XOR-distance bytes used to
// compare two overlays' closeness to a target — bitwise-compared directly
// rather than converted to a big.Int, since overlays are a fixed 32 bytes.
type peerDistance struct {
	overlay  identity.OverlayAddress
	distance [32]byte
}

func xorDistance(a, b identity.OverlayAddress) [32]byte {
	var d [32]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func lessDistance(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ClosestTo returns up to n known overlays ordered by XOR distance to
// target, closest first, with ties broken lexicographically by overlay
// bytes (spec §4.7 "closest_to").
func (t *Table) ClosestTo(target identity.OverlayAddress, n int) []identity.OverlayAddress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candidates := make([]peerDistance, 0, n*2)
	for _, b := range t.bins {
		for o := range b.known {
			candidates = append(candidates, peerDistance{overlay: o, distance: xorDistance(o, target)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return lessDistance(candidates[i].distance, candidates[j].distance)
		}
		return lessDistance(candidates[i].overlay, candidates[j].overlay)
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]identity.OverlayAddress, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].overlay
	}
	return out
}

// Neighbors returns every connected overlay within the neighborhood depth
// (spec §4.7 "neighbors").
func (t *Table) Neighbors() []identity.OverlayAddress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	depth := t.depthLocked()
	var out []identity.OverlayAddress
	for po := depth; po <= t.maxPO; po++ {
		for o := range t.bins[po].connected {
			out = append(out, o)
		}
	}
	return out
}

// PeersToConnect returns known-but-not-connected overlays from
// under-saturated bins, ordered by proximity order descending (closest
// bins first), for the peer manager to dial (spec §4.7 "peers_to_connect").
func (t *Table) PeersToConnect(max int) []identity.OverlayAddress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []identity.OverlayAddress
	for po := t.maxPO; po >= 0 && len(out) < max; po-- {
		b := t.bins[po]
		if len(b.connected) >= t.saturationTarget {
			continue
		}
		for o := range b.known {
			if _, connected := b.connected[o]; connected {
				continue
			}
			out = append(out, o)
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

// Pick is the admission gate a candidate overlay must pass before being
// marked connected (spec §4.7 "pick(overlay, is_full_node) -> bool"). A bin
// at or beyond the neighborhood depth always has room: refusing a
// neighborhood connection would shrink Depth() itself, which the gate must
// never cause as a side effect of being strict. Outside the neighborhood, a
// bin is capped at saturationTarget connections, and light nodes are capped
// more strictly since they carry no storage responsibility. A saturated bin
// gets one eviction attempt against its stalest connection before the
// candidate is refused with ErrBinSaturated (spec §7: "hold peer as Known;
// retry when a bin slot opens").
func (t *Table) Pick(overlay identity.OverlayAddress, isFullNode bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	po := t.poOf(overlay)
	b := t.bins[po]
	if _, already := b.connected[overlay]; already {
		return true, nil
	}
	if po >= t.depthLocked() {
		return true, nil
	}

	capacity := t.saturationTarget
	if !isFullNode {
		capacity = t.saturationTarget / LightNodeBinCapDivisor
		if capacity == 0 {
			capacity = 1
		}
	}
	if len(b.connected) < capacity {
		return true, nil
	}
	if t.evictStaleLocked(b) {
		return true, nil
	}
	return false, ErrBinSaturated
}

// evictStaleLocked drops the oldest connection in b that has held its slot
// longer than StaleConnectionAge, reporting whether it evicted anything.
func (t *Table) evictStaleLocked(b *bin) bool {
	cutoff := time.Now().Add(-StaleConnectionAge)
	var stalest identity.OverlayAddress
	var stalestAt time.Time
	found := false
	for o, at := range b.connectedAt {
		if !at.Before(cutoff) {
			continue
		}
		if !found || at.Before(stalestAt) {
			stalest, stalestAt, found = o, at, true
		}
	}
	if !found {
		return false
	}
	delete(b.connected, stalest)
	delete(b.connectedAt, stalest)
	return true
}

// ClosestConnected returns the single connected overlay closest to target
// by XOR distance, if any are connected (the connected-set counterpart of
// ClosestTo, with the same ordering and tie-break, used to pick a peer to
// retrieve a chunk from).
func (t *Table) ClosestConnected(target identity.OverlayAddress) (identity.OverlayAddress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []peerDistance
	for _, b := range t.bins {
		for o := range b.connected {
			candidates = append(candidates, peerDistance{overlay: o, distance: xorDistance(o, target)})
		}
	}
	if len(candidates) == 0 {
		return identity.OverlayAddress{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return lessDistance(candidates[i].distance, candidates[j].distance)
		}
		return lessDistance(candidates[i].overlay, candidates[j].overlay)
	})
	return candidates[0].overlay, true
}

// BinSizes reports known/connected counts per proximity order, used for
// diagnostics and the CLI's topology table view.
func (t *Table) BinSizes() (known, connected []int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	known = make([]int, len(t.bins))
	connected = make([]int, len(t.bins))
	for i, b := range t.bins {
		known[i] = len(b.known)
		connected[i] = len(b.connected)
	}
	return known, connected
}
