// Package provider implements JSON-RPC transports.
//
// This package contains:
//   - RPCProvider interface: one JSON-RPC endpoint
//   - HTTPProvider: JSON-RPC 2.0 over HTTP with throttle detection
//   - RPCError: a structured JSON-RPC error response
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RPCProvider is a single JSON-RPC endpoint.
type RPCProvider interface {
	// GetName returns provider identifier (e.g., "alchemy", "base-public")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// Call makes a single RPC request and returns the raw result.
	// A JSON null result is returned as nil with no error.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// BatchCall makes multiple RPC calls in one request
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)

	// Forward sends an already encoded request body and returns the
	// response body and HTTP status untouched.
	Forward(ctx context.Context, body []byte) ([]byte, int, error)

	// Close cleans up resources
	Close() error
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	ThrottledAt   time.Time     `json:"throttled_at,omitempty"`
}

// RPCError is an error object returned inside a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is returned when the endpoint answers with a non-200 status.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("http %d (retry after %s): %s", e.StatusCode, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}
