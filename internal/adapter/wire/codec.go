package wire

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/shamaton/msgpack/v2"
)

const (
	ProtocolJSON        = "json"
	ProtocolMessagePack = "messagepack"
)

// Codec turns frames into websocket messages and back.
type Codec interface {
	Name() string
	// MessageType is the websocket message type frames travel in.
	MessageType() int
	Encode(f Frame) ([]byte, error)
	Decode(b []byte) (Frame, error)
}

// CodecFor resolves a protocol name as negotiated in the hub URL. An empty
// name means JSON.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", ProtocolJSON:
		return JSON, nil
	case ProtocolMessagePack:
		return MessagePack, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", name)
	}
}

var (
	JSON        Codec = jsonCodec{}
	MessagePack Codec = msgpackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Name() string     { return ProtocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func (jsonCodec) Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode json frame: %w", err)
	}
	return f, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return ProtocolMessagePack }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(f Frame) ([]byte, error) {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode msgpack frame: %w", err)
	}
	return b, nil
}

func (msgpackCodec) Decode(b []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode msgpack frame: %w", err)
	}
	return f, nil
}
