package codec

import (
	"encoding/json"
	"fmt"

	"tiny-rpc/message"
)

// JSONCodec writes envelopes with their wire keys (rpc, id, method, params,
// params_kw, result, error), readable from any language. Numbers inside params
// and results decode as float64.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	switch v.(type) {
	case *message.Request, *message.Response:
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	switch v.(type) {
	case *message.Request, *message.Response:
	default:
		return fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: json: %w", err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
