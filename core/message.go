package core

// Message is one immutable unit of transport data. Peer names the remote
// rank: the destination while the message travels out, the source once it is
// delivered. Ownership passes to the transport on Send and to the receiving
// channel on delivery
type Message struct {
	// Peer is the remote process rank
	Peer int

	// Channel is the target channel id, which must name a registered channel
	// at the receiver
	Channel int

	// Payload is the opaque message body, possibly empty.
	// Barrier traffic carries none; the messages are pure synchronization
	// tokens.
	Payload []byte
}

// NewMessage creates an outbound message addressed to peer on channel
func NewMessage(peer, channel int, payload []byte) *Message {
	return &Message{
		Peer:    peer,
		Channel: channel,
		Payload: payload,
	}
}
