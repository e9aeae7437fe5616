package core

import "fmt"

// ViolationError reports a message the receiving transaction's state machine
// cannot accept: a sender invalid for the current phase, or input after
// completion. There is no recovery path; the default failure policy aborts
// the process
type ViolationError struct {
	// Peer is the offending sender rank
	Peer int

	// Channel is the channel the message arrived on
	Channel int

	// Received is the count of messages accepted before this one
	Received int

	// Expected is the child count of the current instance
	Expected int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("message from %d unexpected during barrier #%d with n_received=%d of %d expected",
		e.Peer, e.Channel, e.Received, e.Expected)
}

// UnregisteredChannelError reports traffic addressed to a channel id with no
// registered handler. No channel may receive traffic it did not register
// for, so this too is fatal under the default failure policy
type UnregisteredChannelError struct {
	Peer    int
	Channel int
}

func (e *UnregisteredChannelError) Error() string {
	return fmt.Sprintf("message from %d for unregistered channel %d", e.Peer, e.Channel)
}
