package protocol

// FrameKind defines the wire frame types exchanged between peers
type FrameKind string

const (
	// Payload traffic
	FrameData FrameKind = "data" // channel-addressed message between ranks

	// Link management
	FrameHello FrameKind = "link.hello" // handshake carrying mesh id and dialer rank
)

// Frame is the unit framed onto a transport link. Both endpoints of a link
// agree on the codec settings; frames carry no self-describing header
type Frame struct {
	Kind FrameKind `msgpack:"kind" json:"kind"`

	// Peer is the sending rank on data frames
	Peer int `msgpack:"peer" json:"peer"`

	// Channel is the target channel id on data frames
	Channel int `msgpack:"channel" json:"channel"`

	// Payload is the opaque message body, empty for pure synchronization
	// traffic
	Payload []byte `msgpack:"payload,omitempty" json:"payload,omitempty"`

	// Mesh and Rank identify the dialer on link.hello frames
	Mesh string `msgpack:"mesh,omitempty" json:"mesh,omitempty"`
	Rank int    `msgpack:"rank,omitempty" json:"rank,omitempty"`
}

// NewHelloFrame creates the handshake frame sent first on every link
func NewHelloFrame(meshID string, rank int) *Frame {
	return &Frame{
		Kind: FrameHello,
		Mesh: meshID,
		Rank: rank,
	}
}
