// Package eventloop implements the single dispatcher tying transport
// events, protocol-handler events, and the higher-layer command queue
// together (C10, spec §4.10), grounded on the teacher's goroutine+channel
// subscription loop in core/network.go (Subscribe/ListenAndServe):
// one goroutine drains three channels via select until the context is
// cancelled, at which point every registered per-peer task is cancelled
// in turn.
package eventloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"swarmnode/internal/identity"
)

// Kind classifies which of the three event sources an Event came from
// (spec §4.10).
type Kind int

const (
	// KindTransport: connection established/closed, stream opened.
	KindTransport Kind = iota
	// KindHandler: handshake completed, message received.
	KindHandler
	// KindCommand: "retrieve this chunk", "settle with peer X", issued by
	// higher layers.
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHandler:
		return "handler"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Event is one unit of dispatch work. Peer identifies which overlay the
// event concerns; the zero OverlayAddress is used for node-wide events
// that are not about any one peer (e.g. a listen-socket failure).
// CorrelationID lets a log line for this event be tied back to whichever
// request or task produced it, without being part of any wire protocol.
type Event struct {
	Peer          identity.OverlayAddress
	Kind          Kind
	Name          string
	Payload       any
	CorrelationID string
}

// Handler processes one dispatched event. It must not block indefinitely —
// long-running work (settlement, retrieval) should be spawned as its own
// cancellable task via Loop.Spawn instead of running inline.
type Handler func(ctx context.Context, ev Event)

// ErrClosed is returned by Submit* once the loop has been shut down.
var ErrClosed = fmt.Errorf("eventloop: loop is closed")

// Loop is the single-threaded cooperative dispatcher (spec §4.10, §5
// "Event-loop single-writer for topology and peer-manager state").
// Events submitted to the same channel are delivered to Handler in the
// order Submit was called (Go channels are FIFO); since a single peer's
// wire traffic is always submitted from the one goroutine reading that
// peer's stream, per-peer ordering is preserved even though the three
// channels are interleaved arbitrarily by select (spec: "across peers,
// ordering is arbitrary").
type Loop struct {
	transport chan Event
	handler   chan Event
	command   chan Event
	handle    Handler

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	tasks   map[string]context.CancelFunc
	taskSeq uint64
}

// New constructs a Loop with the given per-channel buffer size (0 means
// unbuffered, which is valid but makes Submit* block until Run is
// draining).
func New(handle Handler, bufSize int) *Loop {
	return &Loop{
		transport: make(chan Event, bufSize),
		handler:   make(chan Event, bufSize),
		command:   make(chan Event, bufSize),
		handle:    handle,
		done:      make(chan struct{}),
		tasks:     make(map[string]context.CancelFunc),
	}
}

// SubmitTransport enqueues a transport-source event.
func (l *Loop) SubmitTransport(ev Event) error { ev.Kind = KindTransport; return l.submit(l.transport, ev) }

// SubmitHandler enqueues a protocol-handler-source event.
func (l *Loop) SubmitHandler(ev Event) error { ev.Kind = KindHandler; return l.submit(l.handler, ev) }

// SubmitCommand enqueues a command-source event (spec §4.10 "Commands are
// processed FIFO within a single peer").
func (l *Loop) SubmitCommand(ev Event) error { ev.Kind = KindCommand; return l.submit(l.command, ev) }

func (l *Loop) submit(ch chan Event, ev Event) error {
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.New().String()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	select {
	case ch <- ev:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Run drains the three event channels until ctx is cancelled, dispatching
// each event to Handler on this goroutine (spec: "single-threaded
// cooperative dispatch"). On return, every task registered via Spawn has
// already been cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.transport:
			l.handle(ctx, ev)
		case ev := <-l.handler:
			l.handle(ctx, ev)
		case ev := <-l.command:
			l.handle(ctx, ev)
		}
	}
}

// Spawn launches fn as a cancellable background task (a dial, a
// handshake, a settlement) and registers its cancel function so shutdown
// can issue cancellation to every in-flight task (spec §5 "on node
// shutdown the event loop issues cancel to every task"). fn must release
// any reservations and close any streams when ctx is cancelled — eventloop
// itself has no visibility into what fn holds.
func (l *Loop) Spawn(parent context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)

	l.mu.Lock()
	l.taskSeq++
	id := fmt.Sprintf("%d", l.taskSeq)
	l.tasks[id] = cancel
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.tasks, id)
			l.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	cancels := make([]context.CancelFunc, 0, len(l.tasks))
	for _, c := range l.tasks {
		cancels = append(cancels, c)
	}
	l.mu.Unlock()

	close(l.done)
	for _, c := range cancels {
		c()
	}
}

// PendingTasks reports how many Spawn'd tasks are still registered
// (test/observability hook).
func (l *Loop) PendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}
