// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import "time"

// ExecutionPhase is the lifecycle phase of a single handler execution.
type ExecutionPhase string

// Execution phases, in lifecycle order. STREAMING is entered only by
// streaming handlers; FAILED and TIMED_OUT are terminal alternatives to
// STOPPED.
const (
	PhaseCreated      ExecutionPhase = "CREATED"
	PhaseConstructing ExecutionPhase = "CONSTRUCTING"
	PhaseStarted      ExecutionPhase = "STARTED"
	PhaseExecuting    ExecutionPhase = "EXECUTING"
	PhaseStreaming    ExecutionPhase = "STREAMING"
	PhaseStopping     ExecutionPhase = "STOPPING"
	PhaseStopped      ExecutionPhase = "STOPPED"
	PhaseFailed       ExecutionPhase = "FAILED"
	PhaseTimedOut     ExecutionPhase = "TIMED_OUT"
)

// Terminal reports whether the phase ends the execution lifecycle.
func (p ExecutionPhase) Terminal() bool {
	switch p {
	case PhaseStopped, PhaseFailed, PhaseTimedOut:
		return true
	}
	return false
}

// HandlerState captures the lifecycle of one handler execution. It is
// mutated only by its owning execution unit; everything the rest of the
// system sees is a copy taken via Snapshot.
type HandlerState struct {
	RequestID   string         `json:"request_id"`
	RequestType string         `json:"request_type"`
	Phase       ExecutionPhase `json:"phase"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Success     bool           `json:"success"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	Stack       string         `json:"exception_stack,omitempty"`

	// ResponseSnapshot is the JSON rendering of the completed response,
	// retained for later inspection through the recent-executions API.
	ResponseSnapshot string `json:"response_snapshot,omitempty"`
}

// Snapshot returns a copy safe for concurrent readers.
func (s *HandlerState) Snapshot() HandlerState {
	return *s
}
