// Package message defines the request and response envelopes exchanged between
// two RPC managers.
//
// The shapes are encoding-agnostic. The codec layer turns them into bytes and the
// protocol layer wraps those bytes in a frame; the rpc package only ever sees the
// structs defined here.
//
//	Request  { rpc, id, method, params, params_kw }
//	Response { rpc, id, result? | error? }
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the protocol version carried in every envelope. Peers reject
// responses whose version differs from their own.
const Version = "1.0"

var (
	ErrInvalidRequest  = errors.New("message: invalid request")
	ErrInvalidResponse = errors.New("message: invalid response")
)

// Request asks a peer to invoke the member addressed by Method.
//
//   - Method is a dotted path: the first segment is a registered endpoint name,
//     the remaining segments are attribute hops, e.g. "bar.Foo.Hello".
//   - Params and ParamsKw are passed to the target as positional and keyword
//     arguments respectively.
type Request struct {
	Version  string         `json:"rpc"`
	ID       uint64         `json:"id"`
	Method   string         `json:"method"`
	Params   []any          `json:"params"`
	ParamsKw map[string]any `json:"params_kw"`
}

// NewRequest builds a request for the current protocol version.
// Nil params and kw are normalised to empty values so that every encoding
// carries both fields.
func NewRequest(id uint64, method string, params []any, kw map[string]any) (*Request, error) {
	if params == nil {
		params = []any{}
	}
	if kw == nil {
		kw = map[string]any{}
	}
	req := &Request{
		Version:  Version,
		ID:       id,
		Method:   method,
		Params:   params,
		ParamsKw: kw,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the fields a receiver needs before it can dispatch the request.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if r.Version == "" {
		return fmt.Errorf("%w: missing protocol version", ErrInvalidRequest)
	}
	if r.Method == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidRequest)
	}
	for _, seg := range strings.Split(r.Method, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in method %q", ErrInvalidRequest, r.Method)
		}
	}
	return nil
}

// Segments splits Method into its path segments.
func (r *Request) Segments() []string {
	return strings.Split(r.Method, ".")
}

// Endpoint returns the first segment of Method, the registry name of the target.
func (r *Request) Endpoint() string {
	name, _, _ := strings.Cut(r.Method, ".")
	return name
}

type outcome byte

const (
	outcomeNone outcome = iota
	outcomeResult
	outcomeError
)

// Response carries the outcome of one request.
//
// Exactly one of Result and Error is present on a well-formed response. The zero
// value has neither and is rejected by callers as an invalid response. Use
// NewResult and NewError to build responses; a nil Result is still a result.
type Response struct {
	Version string
	ID      uint64
	Result  any
	Error   string

	outcome outcome
}

// NewResult builds a successful response for request id.
func NewResult(id uint64, result any) *Response {
	return &Response{Version: Version, ID: id, Result: result, outcome: outcomeResult}
}

// NewError builds a failed response for request id.
func NewError(id uint64, msg string) *Response {
	return &Response{Version: Version, ID: id, Error: msg, outcome: outcomeError}
}

// HasResult reports whether the response carries a result.
func (r *Response) HasResult() bool { return r.outcome == outcomeResult }

// HasError reports whether the response carries an error.
func (r *Response) HasError() bool { return r.outcome == outcomeError }

// SetResult turns r into a successful response.
func (r *Response) SetResult(v any) {
	r.Result, r.Error, r.outcome = v, "", outcomeResult
}

// SetError turns r into a failed response.
func (r *Response) SetError(msg string) {
	r.Result, r.Error, r.outcome = nil, msg, outcomeError
}

// MarshalJSON emits the "result" key only for results (null included) and the
// "error" key only for errors.
func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"rpc": r.Version,
		"id":  r.ID,
	}
	switch r.outcome {
	case outcomeResult:
		out["result"] = r.Result
	case outcomeError:
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the outcome from key presence.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{}
	if v, ok := raw["rpc"]; ok {
		if err := json.Unmarshal(v, &r.Version); err != nil {
			return fmt.Errorf("%w: rpc: %v", ErrInvalidResponse, err)
		}
	}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &r.ID); err != nil {
			return fmt.Errorf("%w: id: %v", ErrInvalidResponse, err)
		}
	}
	errRaw, hasErr := raw["error"]
	resRaw, hasRes := raw["result"]
	switch {
	case hasErr:
		var msg string
		if err := json.Unmarshal(errRaw, &msg); err != nil {
			// Non-string errors are kept in their JSON form.
			msg = string(errRaw)
		}
		r.SetError(msg)
	case hasRes:
		var v any
		if err := json.Unmarshal(resRaw, &v); err != nil {
			return fmt.Errorf("%w: result: %v", ErrInvalidResponse, err)
		}
		r.SetResult(v)
	}
	return nil
}
