package gateway

import (
	"fmt"
	"strings"
)

// ValidationError means the model answered but its output could not be
// decoded into the requested shape.
type ValidationError struct {
	Err error
	Raw string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway: response does not match schema: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EmptyResponseError means the backend returned no usable content, typically
// because the output was filtered or the model produced empty candidates.
type EmptyResponseError struct {
	FinishReason string
	BlockReason  string
}

func (e *EmptyResponseError) Error() string {
	parts := []string{"gateway: empty response"}
	if e.FinishReason != "" {
		parts = append(parts, "finish_reason="+e.FinishReason)
	}
	if e.BlockReason != "" {
		parts = append(parts, "block_reason="+e.BlockReason)
	}
	return strings.Join(parts, " ")
}

// GatewayError covers transport and backend failures: connection errors,
// non-2xx statuses, undecodable response envelopes.
type GatewayError struct {
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway: backend returned http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
