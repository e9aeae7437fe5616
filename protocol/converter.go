package protocol

import (
	"fmt"

	"github.com/creastat/collective/core"
)

// FrameFromMessage converts an outbound message to a data frame. from is
// the sending rank, which the receiving side observes as the message peer
func FrameFromMessage(msg *core.Message, from int) *Frame {
	return &Frame{
		Kind:    FrameData,
		Peer:    from,
		Channel: msg.Channel,
		Payload: msg.Payload,
	}
}

// MessageFromFrame converts a delivered data frame back to a message whose
// peer names the sender
func MessageFromFrame(frame *Frame) (*core.Message, error) {
	if frame.Kind != FrameData {
		return nil, fmt.Errorf("cannot convert %s frame to message", frame.Kind)
	}
	return core.NewMessage(frame.Peer, frame.Channel, frame.Payload), nil
}
