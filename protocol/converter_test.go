package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/collective/core"
)

func TestFrameFromMessage(t *testing.T) {
	msg := core.NewMessage(2, 12, []byte("payload"))

	frame := FrameFromMessage(msg, 7)
	assert.Equal(t, FrameData, frame.Kind)
	assert.Equal(t, 7, frame.Peer)
	assert.Equal(t, 12, frame.Channel)
	assert.Equal(t, []byte("payload"), frame.Payload)
}

func TestMessageFromFrame(t *testing.T) {
	frame := &Frame{Kind: FrameData, Peer: 4, Channel: 11, Payload: []byte("payload")}

	msg, err := MessageFromFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, 4, msg.Peer)
	assert.Equal(t, 11, msg.Channel)
	assert.Equal(t, []byte("payload"), msg.Payload)
}

func TestMessageFromFrameRejectsHello(t *testing.T) {
	_, err := MessageFromFrame(NewHelloFrame("mesh-af12", 0))
	assert.Error(t, err)
}

func TestFrameConversionRoundTrip(t *testing.T) {
	msg := core.NewMessage(1, 10, nil)

	restored, err := MessageFromFrame(FrameFromMessage(msg, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Peer)
	assert.Equal(t, 10, restored.Channel)
	assert.Empty(t, restored.Payload)
}
