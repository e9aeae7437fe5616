package collective

import (
	"fmt"

	"github.com/creastat/collective/core"
	"github.com/creastat/collective/telemetry"
)

// barrierPhase tracks whether a barrier transaction is still collecting
// messages or has completed
type barrierPhase int

const (
	phaseCollecting barrierPhase = iota
	phaseDone
)

// Barrier blocks until every rank in the group has entered a barrier on the
// same channel id. Synchronization runs over the spanning tree: readiness
// collapses from the leaves to the root, then wakes fan back out, so each
// rank exchanges messages only with its parent and children.
//
// Outbound traffic is flushed first, so a peer released by this barrier can
// never still be waiting on bytes parked in this process. The channel id is
// registered for the duration of the call and released by protocol
// completion before the call returns, so ids can be reused across rounds
func (n *Node) Barrier(id int) error {
	if err := n.Flush(); err != nil {
		return fmt.Errorf("barrier %d: %w", id, err)
	}

	tx := newBarrierTransaction(n, id)

	// Registration and the initial state check share one critical section:
	// a message dispatched between the two could drive the state machine
	// into a duplicate ready
	n.registry.mu.Lock()
	if err := n.registry.registerLocked(id, &barrierChannel{tx: tx}); err != nil {
		n.registry.mu.Unlock()
		return fmt.Errorf("barrier %d: %w", id, err)
	}
	if err := tx.init(); err != nil {
		n.registry.unregisterLocked(id)
		n.registry.mu.Unlock()
		return fmt.Errorf("barrier %d: %w", id, err)
	}
	n.registry.mu.Unlock()

	n.logger.Debug("barrier entered", telemetry.Int("channel", id))
	tx.cond.Wait()
	n.logger.Debug("barrier released", telemetry.Int("channel", id))
	return nil
}

// barrierChannel binds the single in-flight barrier transaction to its
// channel id
type barrierChannel struct {
	tx *barrierTransaction
}

// Resolve returns the one transaction every message on this channel feeds
func (c *barrierChannel) Resolve(msg *core.Message) core.Transaction {
	return c.tx
}

// barrierTransaction is the per-call state machine. All state is guarded by
// the registry lock: HandleMessage runs under it from dispatch, init runs
// under it from Barrier
type barrierTransaction struct {
	node *Node
	id   int

	phase        barrierPhase
	nReceived    int
	wakeReceived bool
	cond         *core.DoneCondition
}

func newBarrierTransaction(node *Node, id int) *barrierTransaction {
	return &barrierTransaction{
		node: node,
		id:   id,
		cond: core.NewDoneCondition(),
	}
}

// init runs the first completion check. A rank with no children progresses
// immediately: a leaf reports up, a single-rank root completes on the spot
func (t *barrierTransaction) init() error {
	return t.checkState()
}

// HandleMessage advances the barrier on one delivered message. The payload
// is ignored; arrival is the signal
func (t *barrierTransaction) HandleMessage(msg *core.Message) error {
	if t.phase == phaseDone || !t.validSender(msg.Peer) {
		return &core.ViolationError{
			Peer:     msg.Peer,
			Channel:  t.id,
			Received: t.nReceived,
			Expected: t.node.topology.NChildren(),
		}
	}
	if t.nReceived == t.node.topology.NChildren() {
		// Everything below is accounted for, so this is the parent's wake
		t.wakeReceived = true
	}
	t.nReceived++
	return t.checkState()
}

// validSender reports whether peer may talk to this barrier right now.
// While the count is filling only children report; once every child is in,
// only the parent's wake remains
func (t *barrierTransaction) validSender(peer int) bool {
	topo := t.node.topology
	if t.nReceived == topo.NChildren() {
		return peer == topo.Parent()
	}
	for i := 0; i < topo.NChildren(); i++ {
		if topo.Child(i) == peer {
			return true
		}
	}
	return false
}

// checkState fires whichever transition the count permits. Short of the
// child count nothing happens. At the count the root completes outright and
// everyone else reports up exactly once, completing later on the wake
func (t *barrierTransaction) checkState() error {
	topo := t.node.topology
	if t.nReceived < topo.NChildren() {
		return nil
	}
	if topo.IsRoot() || t.wakeReceived {
		return t.complete()
	}
	return t.node.send(core.NewMessage(topo.Parent(), t.id, nil))
}

// complete releases the channel id and wakes the children before the
// signal, so the blocked caller resumes only after cleanup is finished and
// can immediately reuse the id
func (t *barrierTransaction) complete() error {
	topo := t.node.topology

	t.phase = phaseDone
	t.node.registry.unregisterLocked(t.id)
	defer t.cond.Done()

	for i := 0; i < topo.NChildren(); i++ {
		if err := t.node.send(core.NewMessage(topo.Child(i), t.id, nil)); err != nil {
			return fmt.Errorf("waking child %d: %w", topo.Child(i), err)
		}
	}
	t.node.metrics.BarriersCompleted.Add(1)
	return nil
}
