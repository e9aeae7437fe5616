package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/creastat/collective/core"
	"github.com/creastat/collective/telemetry"
)

// MeshConfig holds the configuration for an in-memory mesh
type MeshConfig struct {
	// Size is the number of ranks in the group
	Size int

	// BufferSize is the per-rank queue capacity. Synchronization traffic is
	// tiny; the default of 64 leaves wide headroom
	BufferSize int

	// Logger defaults to a no-op logger
	Logger telemetry.Logger
}

// Mesh connects a group of ranks inside one process. Every rank gets an
// endpoint used as its transport; a writer goroutine per rank drains that
// rank's outbox in order, so per-sender delivery order matches send order,
// and a pump goroutine per rank feeds its inbox to the rank's dispatcher.
// Messages are buffered in both directions, the way a real message layer
// buffers small sends
type Mesh struct {
	config MeshConfig
	logger telemetry.Logger

	outboxes    []chan meshFrame
	inboxes     []chan *core.Message
	dispatchers []core.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// meshFrame is one outbox entry: a message to deliver or a flush token to
// release
type meshFrame struct {
	msg     *core.Message
	flushed chan struct{}
}

// NewMesh creates a mesh for a fixed group size
func NewMesh(config MeshConfig) *Mesh {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	logger := config.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	outboxes := make([]chan meshFrame, config.Size)
	inboxes := make([]chan *core.Message, config.Size)
	for i := 0; i < config.Size; i++ {
		outboxes[i] = make(chan meshFrame, config.BufferSize)
		inboxes[i] = make(chan *core.Message, config.BufferSize)
	}

	return &Mesh{
		config:      config,
		logger:      logger.WithModule("mesh"),
		outboxes:    outboxes,
		inboxes:     inboxes,
		dispatchers: make([]core.Dispatcher, config.Size),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Endpoint returns the transport for one rank
func (m *Mesh) Endpoint(rank int) (*MeshEndpoint, error) {
	if rank < 0 || rank >= m.config.Size {
		return nil, fmt.Errorf("rank %d out of range for mesh of %d", rank, m.config.Size)
	}
	return &MeshEndpoint{mesh: m, rank: rank}, nil
}

// Attach binds a rank's inbound traffic to its dispatcher. Every rank must
// be attached before Start
func (m *Mesh) Attach(rank int, dispatcher core.Dispatcher) error {
	if rank < 0 || rank >= m.config.Size {
		return fmt.Errorf("rank %d out of range for mesh of %d", rank, m.config.Size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("mesh already started")
	}
	m.dispatchers[rank] = dispatcher
	return nil
}

// Start launches the writer and pump goroutines. The mesh stops when ctx is
// cancelled or Close is called
func (m *Mesh) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("mesh already started")
	}
	for rank, dispatcher := range m.dispatchers {
		if dispatcher == nil {
			return fmt.Errorf("rank %d has no dispatcher attached", rank)
		}
	}
	m.started = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
			m.cancel()
		case <-m.ctx.Done():
		}
	}()

	for rank := 0; rank < m.config.Size; rank++ {
		m.wg.Add(2)
		go m.runWriter(rank)
		go m.runPump(rank)
	}

	m.logger.Info("mesh started", telemetry.Int("size", m.config.Size))
	return nil
}

// Close stops all mesh goroutines and waits for them to exit. In-flight
// messages are dropped
func (m *Mesh) Close() {
	m.cancel()
	m.wg.Wait()
}

// runWriter drains one rank's outbox: messages move to the destination
// inbox with the peer rewritten to the sender, flush tokens are released
// once everything ahead of them has been delivered
func (m *Mesh) runWriter(rank int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case frame := <-m.outboxes[rank]:
			if frame.flushed != nil {
				close(frame.flushed)
				continue
			}
			delivered := core.NewMessage(rank, frame.msg.Channel, frame.msg.Payload)
			select {
			case <-m.ctx.Done():
				return
			case m.inboxes[frame.msg.Peer] <- delivered:
			}
		}
	}
}

// runPump feeds one rank's inbox to its dispatcher. Dispatch errors have
// already been through the rank's failure policy, so the pump only records
// them and keeps serving
func (m *Mesh) runPump(rank int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.inboxes[rank]:
			if err := m.dispatchers[rank].Dispatch(msg); err != nil {
				m.logger.Error("dispatch failed",
					telemetry.Int("rank", rank),
					telemetry.Int("peer", msg.Peer),
					telemetry.Int("channel", msg.Channel),
					telemetry.Err(err))
			}
		}
	}
}

// MeshEndpoint is one rank's transport on a mesh
type MeshEndpoint struct {
	mesh *Mesh
	rank int
}

// Rank returns the endpoint's rank
func (e *MeshEndpoint) Rank() int {
	return e.rank
}

// Send queues one message for delivery. Ownership of the message passes to
// the mesh
func (e *MeshEndpoint) Send(msg *core.Message) error {
	if msg.Peer < 0 || msg.Peer >= e.mesh.config.Size {
		return fmt.Errorf("peer %d out of range for mesh of %d", msg.Peer, e.mesh.config.Size)
	}
	select {
	case e.mesh.outboxes[e.rank] <- meshFrame{msg: msg}:
		return nil
	case <-e.mesh.ctx.Done():
		return fmt.Errorf("mesh closed")
	}
}

// Flush blocks until every message this endpoint queued before the call
// has been delivered to its destination inbox. The mesh must be started or
// the token is never drained
func (e *MeshEndpoint) Flush() error {
	flushed := make(chan struct{})
	select {
	case e.mesh.outboxes[e.rank] <- meshFrame{flushed: flushed}:
	case <-e.mesh.ctx.Done():
		return fmt.Errorf("mesh closed")
	}
	select {
	case <-flushed:
		return nil
	case <-e.mesh.ctx.Done():
		return fmt.Errorf("mesh closed")
	}
}
