package peermanager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// entry is one peer's lifecycle state plus its scoring counters. State
// transitions are cold-path (handshake/connect events, not per-message),
// so they are guarded by a plain mutex; the scoring counters are updated
// far more often (every successful/failed exchange) and so are plain
// atomics read without the mutex.
type entry struct {
	mu          sync.Mutex
	state       State
	bannedUntil time.Time
	transportID peer.ID
	ip          string

	successes  int64
	failures   int64
	violations int64
}

func newEntry() *entry {
	return &entry{state: StateKnown}
}

func (e *entry) transition(to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateBanned && to == StateKnown && time.Now().Before(e.bannedUntil) {
		return false
	}
	if !canTransition(e.state, to) {
		return false
	}
	e.state = to
	return true
}

func (e *entry) ban(until time.Time) {
	e.mu.Lock()
	e.state = StateBanned
	e.bannedUntil = until
	e.mu.Unlock()
}

func (e *entry) currentState() (State, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.bannedUntil
}

func (e *entry) isBanned() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateBanned {
		return false
	}
	if time.Now().After(e.bannedUntil) {
		e.state = StateKnown
		return false
	}
	return true
}

func (e *entry) recordSuccess()          { atomic.AddInt64(&e.successes, 1) }
func (e *entry) recordFailure()          { atomic.AddInt64(&e.failures, 1) }
func (e *entry) recordViolation()        { atomic.AddInt64(&e.violations, 1) }

// score computes a weighted sum of the atomic counters (spec §4.8 "atomic
// per-peer scoring events"). The weights are an Open Question the spec
// leaves unresolved (spec §9); these defaults favor protocol violations
// as the heaviest penalty since they indicate active misbehavior rather
// than ordinary network flakiness.
func (e *entry) score(w ScoreWeights) float64 {
	s := atomic.LoadInt64(&e.successes)
	f := atomic.LoadInt64(&e.failures)
	v := atomic.LoadInt64(&e.violations)
	return float64(s)*w.Success + float64(f)*w.Failure + float64(v)*w.Violation
}

// ScoreWeights configures the scoring formula (spec §4.8, §9 Open
// Question: "left as configurable with a concrete default").
type ScoreWeights struct {
	Success   float64
	Failure   float64
	Violation float64
}

// DefaultScoreWeights is the chosen default (spec §9 decision, see
// DESIGN.md).
var DefaultScoreWeights = ScoreWeights{Success: 1, Failure: -2, Violation: -10}
