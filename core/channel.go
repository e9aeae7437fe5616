package core

// Transaction is the stateful handler driving one in-flight distributed
// operation. HandleMessage consumes an inbound message and advances the local
// state machine; a message the current phase cannot accept is reported as a
// protocol violation. A transaction that has signaled completion must reject
// all further input.
type Transaction interface {
	HandleMessage(msg *Message) error
}

// Channel binds one or more transactions to a registered channel id and
// resolves each inbound message to the transaction that must consume it.
// The barrier is the degenerate case with a single transaction bound for the
// channel's entire lifetime; other collectives may demultiplex by message
// content.
type Channel interface {
	Resolve(msg *Message) Transaction
}

// Dispatcher routes an inbound message to its registered channel.
// Transport receive loops deliver through this interface
type Dispatcher interface {
	Dispatch(msg *Message) error
}

// Transport hands outbound messages to the wire
type Transport interface {
	// Send hands a message to the transport; ownership passes with it
	Send(msg *Message) error

	// Flush blocks until every previously issued Send has been handed off to
	// the transport layer, ordered ahead of anything sent after Flush returns
	Flush() error
}

// Topology is one process's read-only view of the spanning tree over the
// group. It is static for the duration of a collective call: every rank
// appears exactly once and the tree is connected and acyclic
type Topology interface {
	Rank() int
	Size() int
	IsRoot() bool

	// Parent returns the parent rank, -1 for the root
	Parent() int

	NChildren() int

	// Child returns the rank of the i-th child for 0 <= i < NChildren
	Child(i int) int
}
