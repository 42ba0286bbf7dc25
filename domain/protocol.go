package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Frame is the envelope of every realtime message in both directions.
type Frame struct {
	Event string                 `json:"event"`
	Data  sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// NewFrame encodes data as the payload of event.
func NewFrame(event string, data any) (Frame, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

// EncodeFrame renders a frame ready to be written to the socket.
func EncodeFrame(event string, data any) ([]byte, error) {
	f, err := NewFrame(event, data)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(f)
}

// DecodeFrame parses a raw socket message.
func DecodeFrame(msg []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, invalid("event is required")
	}
	return f, nil
}
