package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the frame serialization format
type Encoding string

const (
	EncodingMsgpack Encoding = "msgpack"
	EncodingJSON    Encoding = "json"
)

// Compression selects the frame compression algorithm
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// FrameCodecConfig holds codec settings. Both ends of a link must be built
// with the same configuration
type FrameCodecConfig struct {
	Encoding    Encoding
	Compression Compression
}

// FrameCodec encodes frames for the wire
type FrameCodec struct {
	config FrameCodecConfig
}

// NewFrameCodec creates a codec from configuration. Zero-value fields
// default to msgpack without compression
func NewFrameCodec(config FrameCodecConfig) *FrameCodec {
	if config.Encoding == "" {
		config.Encoding = EncodingMsgpack
	}
	if config.Compression == "" {
		config.Compression = CompressionNone
	}
	return &FrameCodec{config: config}
}

// DefaultCodec returns the codec links use when none is given: msgpack
// frames, zstd-compressed
func DefaultCodec() *FrameCodec {
	return NewFrameCodec(FrameCodecConfig{
		Encoding:    EncodingMsgpack,
		Compression: CompressionZstd,
	})
}

// Name describes the codec configuration, for logs
func (c *FrameCodec) Name() string {
	return string(c.config.Encoding) + "+" + string(c.config.Compression)
}

// Encode serializes and optionally compresses a frame
func (c *FrameCodec) Encode(frame *Frame) ([]byte, error) {
	var data []byte
	var err error

	switch c.config.Encoding {
	case EncodingJSON:
		data, err = json.Marshal(frame)
	default:
		data, err = msgpack.Marshal(frame)
	}
	if err != nil {
		return nil, fmt.Errorf("frame encoding failed: %w", err)
	}

	return c.compress(data)
}

// Decode reverses Encode
func (c *FrameCodec) Decode(data []byte) (*Frame, error) {
	data, err := c.decompress(data)
	if err != nil {
		return nil, err
	}

	frame := &Frame{}
	switch c.config.Encoding {
	case EncodingJSON:
		err = json.Unmarshal(data, frame)
	default:
		err = msgpack.Unmarshal(data, frame)
	}
	if err != nil {
		return nil, fmt.Errorf("frame decoding failed: %w", err)
	}

	return frame, nil
}

func (c *FrameCodec) compress(data []byte) ([]byte, error) {
	switch c.config.Compression {
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("compression failed: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func (c *FrameCodec) decompress(data []byte) ([]byte, error) {
	switch c.config.Compression {
	case CompressionZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("decompression failed: %w", err)
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)
	default:
		return data, nil
	}
}
