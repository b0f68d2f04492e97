// Package codec turns message envelopes into bytes and back.
//
// Two formats are provided: JSON, and a compact binary layout that keeps the
// envelope fields in fixed-width binary and embeds the dynamic values (params,
// keyword params, result) as JSON blobs.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

var (
	ErrUnsupportedValue = errors.New("codec: value must be *message.Request or *message.Response")
	ErrTruncated        = errors.New("codec: truncated data")
	ErrUnknownType      = errors.New("codec: unknown codec type")
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseType maps a configuration name ("json", "binary") to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary", "bin":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}
