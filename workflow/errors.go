//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrCheckpointNotFound is returned when a checkpoint id does not exist
	// or the stored document cannot be read.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrRunnerNotSuspended is returned when responses are sent to a runner
	// that has no pending request-info records.
	ErrRunnerNotSuspended = errors.New("runner has no pending requests")
	// ErrUnknownRequestID is returned when a response references a request id
	// that is not pending.
	ErrUnknownRequestID = errors.New("unknown request id")
	// ErrRunnerFinished is returned when input is sent to a runner that has
	// already reached a terminal state.
	ErrRunnerFinished = errors.New("runner already finished")
)

// GraphValidationError reports a structural problem detected by Build.
type GraphValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	return "graph validation failed: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &GraphValidationError{Reason: fmt.Sprintf(format, args...)}
}

// MaxIterationsError reports that a run exceeded its superstep bound without
// terminating.
type MaxIterationsError struct {
	WorkflowID string
	Limit      int
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("workflow %s exceeded max iterations (%d)", e.WorkflowID, e.Limit)
}

// AmbiguousInterceptorError reports that two interceptors claim the same
// (message type, sub-workflow id) pair.
type AmbiguousInterceptorError struct {
	MessageType   string
	SubWorkflowID string
}

// Error implements the error interface.
func (e *AmbiguousInterceptorError) Error() string {
	return fmt.Sprintf("ambiguous interceptor for message type %q from workflow %q",
		e.MessageType, e.SubWorkflowID)
}

// InvariantError reports an unrecoverable engine invariant violation, such as
// a message delivered to an executor id that passed build-time validation but
// no longer resolves.
type InvariantError struct {
	ExecutorID  string
	MessageType string
	Reason      string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("engine invariant violated at executor %q (message type %q): %s",
		e.ExecutorID, e.MessageType, e.Reason)
}
