package core

// DoneCondition is a one-shot rendezvous between the goroutine blocked in a
// collective call and the dispatch goroutine that completes it. The pending
// to done transition happens exactly once; closing the signaling channel
// makes the contract structural
type DoneCondition struct {
	done chan struct{}
}

// NewDoneCondition creates a pending condition
func NewDoneCondition() *DoneCondition {
	return &DoneCondition{done: make(chan struct{})}
}

// Done transitions the condition from pending to done and releases every
// waiter without blocking. Calling it twice is a caller error and panics
func (c *DoneCondition) Done() {
	close(c.done)
}

// Wait blocks the calling goroutine until Done has been called. Waits on an
// already-done condition return immediately. There is no timeout: a barrier
// call is expected to complete once the whole group participates.
func (c *DoneCondition) Wait() {
	<-c.done
}
