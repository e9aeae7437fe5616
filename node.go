package collective

import (
	"errors"
	"fmt"

	"github.com/creastat/collective/core"
	"github.com/creastat/collective/telemetry"
)

// NodeConfig holds the dependencies of a process-local node
type NodeConfig struct {
	// Topology is this process's view of the spanning tree
	Topology core.Topology

	// Transport carries messages between ranks
	Transport core.Transport

	// Registry is the channel table; one is created when nil
	Registry *Registry

	// Logger defaults to a no-op logger
	Logger telemetry.Logger

	// Metrics defaults to a fresh unpublished set
	Metrics *telemetry.Metrics

	// OnViolation runs when dispatch hits a protocol violation. The default
	// policy logs at fatal level and terminates the process; supervised
	// deployments inject a handler to keep the process alive
	OnViolation func(err error)
}

// Node binds one process's topology view, transport, channel registry and
// failure policy. The transport's receive loops deliver inbound messages
// through Dispatch; application goroutines enter collectives through
// operations like Barrier
type Node struct {
	topology  core.Topology
	transport core.Transport
	registry  *Registry
	logger    telemetry.Logger
	metrics   *telemetry.Metrics
	violation func(err error)
}

// NewNode creates a node from config, applying defaults for the optional
// fields
func NewNode(config NodeConfig) *Node {
	logger := config.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	registry := config.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	n := &Node{
		topology:  config.Topology,
		transport: config.Transport,
		registry:  registry,
		logger:    logger.WithModule("node"),
		metrics:   metrics,
	}
	n.violation = config.OnViolation
	if n.violation == nil {
		n.violation = n.defaultViolation
	}
	return n
}

// Rank returns this process's rank in the group
func (n *Node) Rank() int {
	return n.topology.Rank()
}

// Size returns the number of ranks in the group
func (n *Node) Size() int {
	return n.topology.Size()
}

// Registry returns the node's channel table
func (n *Node) Registry() *Registry {
	return n.registry
}

// Register binds a channel id on the node's registry
func (n *Node) Register(id int, channel core.Channel) error {
	return n.registry.Register(id, channel)
}

// Unregister releases a channel id on the node's registry
func (n *Node) Unregister(id int) {
	n.registry.Unregister(id)
}

// Dispatch delivers one inbound message to its channel. Resolution and
// handling run under the registry lock. Traffic for an unregistered id and
// errors raised by the transaction route through the violation policy
// before being returned
func (n *Node) Dispatch(msg *core.Message) error {
	n.metrics.FramesReceived.Add(1)

	n.registry.mu.Lock()
	channel := n.registry.lookupLocked(msg.Channel)
	if channel == nil {
		n.registry.mu.Unlock()
		err := &core.UnregisteredChannelError{Peer: msg.Peer, Channel: msg.Channel}
		n.fail(err)
		return err
	}
	tx := channel.Resolve(msg)
	err := tx.HandleMessage(msg)
	n.registry.mu.Unlock()

	if err != nil {
		n.fail(err)
		return err
	}
	n.metrics.Dispatches.Add(1)
	return nil
}

// Flush blocks until every message handed to the transport so far is on its
// way to the peer
func (n *Node) Flush() error {
	if err := n.transport.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	n.metrics.Flushes.Add(1)
	return nil
}

// send hands one outbound message to the transport. Callers may hold the
// registry lock; Send never waits on inbound dispatch
func (n *Node) send(msg *core.Message) error {
	if err := n.transport.Send(msg); err != nil {
		return fmt.Errorf("send to %d on channel %d failed: %w", msg.Peer, msg.Channel, err)
	}
	n.metrics.FramesSent.Add(1)
	return nil
}

// fail applies the violation policy. The policy may not return
func (n *Node) fail(err error) {
	var violation *core.ViolationError
	var unregistered *core.UnregisteredChannelError
	if errors.As(err, &violation) || errors.As(err, &unregistered) {
		n.metrics.Violations.Add(1)
	}
	n.violation(err)
}

func (n *Node) defaultViolation(err error) {
	n.logger.Fatal("unrecoverable dispatch failure",
		telemetry.Int("rank", n.topology.Rank()),
		telemetry.Err(err))
}
