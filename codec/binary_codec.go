package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"tiny-rpc/message"
)

// BinaryCodec lays envelopes out as length-prefixed fields:
//
//	Request:  kind(1)=0 | verLen(2) ver | id(8) | methodLen(2) method | paramsLen(4) params | kwLen(4) kw
//	Response: kind(1)=1 | verLen(2) ver | id(8) | outcome(1) | bodyLen(4) body
//
// params, kw and a result body are JSON; an error body is the raw message text.
// outcome is 0 (none), 1 (result) or 2 (error).
type BinaryCodec struct{}

const (
	kindRequest  byte = 0
	kindResponse byte = 1

	outcomeNone   byte = 0
	outcomeResult byte = 1
	outcomeError  byte = 2
)

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Request:
		return encodeRequest(msg)
	case *message.Response:
		return encodeResponse(msg)
	}
	return nil, fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *message.Request:
		return decodeRequest(data, msg)
	case *message.Response:
		return decodeResponse(data, msg)
	}
	return fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeRequest(req *message.Request) ([]byte, error) {
	if len(req.Version) > math.MaxUint16 || len(req.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("codec: version or method longer than %d bytes", math.MaxUint16)
	}
	params, err := json.Marshal(req.Params)
	if err != nil {
		return nil, err
	}
	kw, err := json.Marshal(req.ParamsKw)
	if err != nil {
		return nil, err
	}

	// Caculate the length of message
	total := 1 + 2 + len(req.Version) + 8 + 2 + len(req.Method) + 4 + len(params) + 4 + len(kw)
	buf := make([]byte, 0, total)
	buf = append(buf, kindRequest)
	buf = appendString16(buf, req.Version)
	buf = binary.BigEndian.AppendUint64(buf, req.ID)
	buf = appendString16(buf, req.Method)
	buf = appendBytes32(buf, params)
	buf = appendBytes32(buf, kw)
	return buf, nil
}

func encodeResponse(resp *message.Response) ([]byte, error) {
	if len(resp.Version) > math.MaxUint16 {
		return nil, fmt.Errorf("codec: version longer than %d bytes", math.MaxUint16)
	}
	outcome, body := outcomeNone, []byte(nil)
	switch {
	case resp.HasError():
		outcome, body = outcomeError, []byte(resp.Error)
	case resp.HasResult():
		b, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, err
		}
		outcome, body = outcomeResult, b
	}

	total := 1 + 2 + len(resp.Version) + 8 + 1 + 4 + len(body)
	buf := make([]byte, 0, total)
	buf = append(buf, kindResponse)
	buf = appendString16(buf, resp.Version)
	buf = binary.BigEndian.AppendUint64(buf, resp.ID)
	buf = append(buf, outcome)
	buf = appendBytes32(buf, body)
	return buf, nil
}

func decodeRequest(data []byte, req *message.Request) error {
	r := reader{data: data}
	if kind := r.readByte(); r.err == nil && kind != kindRequest {
		return fmt.Errorf("codec: expected request, got kind %d", kind)
	}
	version := r.readString16()
	id := r.readUint64()
	method := r.readString16()
	params := r.readBytes32()
	kw := r.readBytes32()
	if r.err != nil {
		return r.err
	}

	*req = message.Request{Version: version, ID: id, Method: method}
	if err := json.Unmarshal(params, &req.Params); err != nil {
		return fmt.Errorf("codec: params: %w", err)
	}
	if err := json.Unmarshal(kw, &req.ParamsKw); err != nil {
		return fmt.Errorf("codec: params_kw: %w", err)
	}
	return nil
}

func decodeResponse(data []byte, resp *message.Response) error {
	r := reader{data: data}
	if kind := r.readByte(); r.err == nil && kind != kindResponse {
		return fmt.Errorf("codec: expected response, got kind %d", kind)
	}
	version := r.readString16()
	id := r.readUint64()
	outcome := r.readByte()
	body := r.readBytes32()
	if r.err != nil {
		return r.err
	}

	*resp = message.Response{Version: version, ID: id}
	switch outcome {
	case outcomeNone:
	case outcomeError:
		resp.SetError(string(body))
	case outcomeResult:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("codec: result: %w", err)
		}
		resp.SetResult(v)
	default:
		return fmt.Errorf("codec: unknown outcome %d", outcome)
	}
	return nil
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader walks a byte slice and remembers the first short read.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.offset < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) readByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) readString16() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *reader) readBytes32() []byte {
	b := r.take(4)
	if b == nil {
		return nil
	}
	return slices.Clone(r.take(int(binary.BigEndian.Uint32(b))))
}
