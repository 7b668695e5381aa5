// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import "time"

// ResponseStatus is the outcome classifier carried on every Response.
type ResponseStatus string

// Response statuses.
const (
	StatusSuccess          ResponseStatus = "SUCCESS"
	StatusError            ResponseStatus = "ERROR"
	StatusTimeout          ResponseStatus = "TIMEOUT"
	StatusStreamingStarted ResponseStatus = "STREAMING_STARTED"
	StatusStreamingData    ResponseStatus = "STREAMING_DATA"
	StatusStreamingEnded   ResponseStatus = "STREAMING_ENDED"
)

// ErrorKind classifies dispatch and execution failures. It travels in the
// Response result map under "error_kind" rather than as a Go error type so
// that every egress channel sees the same taxonomy.
type ErrorKind string

// Error kinds.
const (
	ErrAuthFailed           ErrorKind = "AUTH_FAILED"
	ErrHandlerNotFound      ErrorKind = "HANDLER_NOT_FOUND"
	ErrInvalidRequest       ErrorKind = "INVALID_REQUEST"
	ErrTTLExceeded          ErrorKind = "TTL_EXCEEDED"
	ErrHandlerFailure       ErrorKind = "HANDLER_FAILURE"
	ErrBrokerUnavailable    ErrorKind = "BROKER_UNAVAILABLE"
	ErrConfigError          ErrorKind = "CONFIG_ERROR"
	ErrClusterForwardFailed ErrorKind = "CLUSTER_FORWARD_FAILED"
)

// Response is the canonical outbound envelope. The engine stamps HandlerID,
// HandlerType and ExecutionTimeMs on every response it completes.
type Response struct {
	RequestID       string                 `json:"request_id"`
	Status          ResponseStatus         `json:"status"`
	HandlerType     string                 `json:"handler_type,omitempty"`
	HandlerID       string                 `json:"handler_id,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Timestamp       time.Time              `json:"timestamp"`
	Message         string                 `json:"message,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`

	// SessionID and Sequence are set on streaming responses only.
	SessionID string `json:"session_id,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
}

// NewSuccessResponse builds a SUCCESS response for the given request id.
func NewSuccessResponse(requestID string, result map[string]interface{}) *Response {
	if result == nil {
		result = map[string]interface{}{}
	}
	return &Response{
		RequestID: requestID,
		Status:    StatusSuccess,
		Timestamp: time.Now().UTC(),
		Result:    result,
	}
}

// NewErrorResponse builds an ERROR response carrying the error kind.
func NewErrorResponse(requestID string, kind ErrorKind, message string) *Response {
	return &Response{
		RequestID: requestID,
		Status:    StatusError,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Result:    map[string]interface{}{"error_kind": string(kind)},
	}
}

// NewTimeoutResponse builds a TIMEOUT response for a TTL-expired execution.
func NewTimeoutResponse(requestID string, ttlMinutes int) *Response {
	return &Response{
		RequestID: requestID,
		Status:    StatusTimeout,
		Timestamp: time.Now().UTC(),
		Message:   "execution exceeded its TTL",
		Result: map[string]interface{}{
			"error_kind":  string(ErrTTLExceeded),
			"ttl_minutes": ttlMinutes,
		},
	}
}

// Kind extracts the error kind from an error response, if present.
func (r *Response) Kind() (ErrorKind, bool) {
	if r == nil || r.Result == nil {
		return "", false
	}
	if k, ok := r.Result["error_kind"].(string); ok {
		return ErrorKind(k), true
	}
	return "", false
}
