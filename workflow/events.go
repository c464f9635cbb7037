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
	"time"

	"github.com/google/uuid"
)

// EventType classifies events surfaced to the driving caller during a run.
type EventType string

const (
	// EventExecutorInvoked is emitted when a handler invocation starts.
	EventExecutorInvoked EventType = "executor.invoked"
	// EventExecutorCompleted is emitted when a handler invocation returns.
	EventExecutorCompleted EventType = "executor.completed"
	// EventMessageRouted is emitted when a staged message is committed into
	// the next round's queue.
	EventMessageRouted EventType = "message.routed"
	// EventRequestInfo is emitted when a request-info suspension is created.
	EventRequestInfo EventType = "request.info"
	// EventHandoffSent is emitted by handoff orchestration when control
	// transfers between participants.
	EventHandoffSent EventType = "handoff.sent"
	// EventWorkflowCompleted is emitted once when a run reaches the completed
	// state.
	EventWorkflowCompleted EventType = "workflow.completed"
	// EventWorkflowFailed is emitted once when a run reaches the failed
	// state.
	EventWorkflowFailed EventType = "workflow.failed"
	// EventCustom is the type for events emitted by handlers via AddEvent.
	EventCustom EventType = "custom"
)

// Event is a single entry of the run's event stream. It carries enough data
// to reconstruct what happened without replaying internal state.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// Type classifies the event.
	Type EventType `json:"type"`
	// WorkflowID is the id of the workflow the event belongs to.
	WorkflowID string `json:"workflow_id"`
	// ExecutorID is the executor the event concerns, when applicable.
	ExecutorID string `json:"executor_id,omitempty"`
	// Round is the superstep number the event was produced in.
	Round int `json:"round"`
	// MessageType is the type of the message involved, when applicable.
	MessageType string `json:"message_type,omitempty"`
	// RequestID correlates request-info events with SendResponses.
	RequestID string `json:"request_id,omitempty"`
	// Data is an event-specific payload.
	Data any `json:"data,omitempty"`
	// Error holds the failure text for workflow.failed events.
	Error string `json:"error,omitempty"`
	// Timestamp is when the event was created.
	Timestamp time.Time `json:"ts"`
}

// NewEvent creates an event of the given type for the given workflow.
func NewEvent(evtType EventType, workflowID string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       evtType,
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
	}
}
