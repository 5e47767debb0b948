package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// JSON-RPC 2.0 standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server error codes.
const (
	// NotFound indicates the block, transaction, program or mapping does not
	// exist on this node.
	NotFound = -32004

	// RangeTooLarge indicates a block range wider than MaxBlockRange.
	RangeTooLarge = -32010
)

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Common errors.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
)

// NewRPCError creates an RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsErrorf creates an invalid params error.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal error.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// fromError maps a lookup failure to an RPC error.
func fromError(err error) *RPCError {
	switch {
	case errors.Is(err, ledger.ErrBlockNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, vmerr.ErrUnresolvedTarget):
		return NewRPCError(NotFound, err.Error())
	case errors.Is(err, vmerr.ErrTypeOrRange):
		return InvalidParamsErrorf("%v", err)
	default:
		return InternalServerErrorf("%v", err)
	}
}
