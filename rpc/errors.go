package rpc

import (
	"errors"
	"fmt"
)

// Registration and client-side errors. Resolution and invocation failures never
// show up here: Handle encodes them into the response instead.
var (
	ErrInvalidTarget = errors.New("rpc: only functions and structs can be tagged public")
	ErrInvalidName   = errors.New("rpc: endpoint name must be a valid identifier")
	ErrDuplicateName = errors.New("rpc: endpoint name is already registered")
	ErrNotPublic     = errors.New("rpc: object is not public")
	ErrUnimplemented = errors.New("rpc: send is not implemented")
	ErrProtocol      = errors.New("rpc: protocol error")
)

// Resolution failures reported by Handle.
const (
	errEndpointNotFound = "endpoint not found"
	errNotPublic        = "attribute is not public"
	errDoesNotExist     = "attribute does not exist"
	errNotCallable      = "attribute is not callable"
)

// RemoteError is returned by a proxy call when the peer reported a failure.
// Message is the peer's error text, unchanged.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote %s: %s", e.Method, e.Message)
}
