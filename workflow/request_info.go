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
	"github.com/google/uuid"
)

// RequestInfoRecord is a pending suspension point: a request-info message
// that no executor could satisfy, waiting for an external response supplied
// via SendResponses. Records are part of checkpointed state.
type RequestInfoRecord struct {
	// RequestID is the unique correlation id the caller answers with.
	RequestID string `json:"request_id"`
	// Message is the request that triggered the suspension.
	Message *Message `json:"message"`
	// SourceID is the executor the response is re-injected to. For nested
	// workflows this is the wrapper executor in the parent graph.
	SourceID string `json:"source_id"`
	// SubWorkflowID is set when the request originated inside a nested
	// workflow.
	SubWorkflowID string `json:"sub_workflow_id,omitempty"`
}

// newRequestInfoRecord creates a record for a message that could not be
// routed. The originating request id is preserved when the message already
// carries one (nested workflows re-surface their child's records).
func newRequestInfoRecord(msg *Message, requestID, subWorkflowID string) *RequestInfoRecord {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &RequestInfoRecord{
		RequestID:     requestID,
		Message:       msg,
		SourceID:      msg.SourceID,
		SubWorkflowID: subWorkflowID,
	}
}

// responseMessage builds the message that re-injects an external answer to
// the record's originating executor.
func (r *RequestInfoRecord) responseMessage(value any) *Message {
	m := NewMessage(ResponseType(r.Message.Type), ResponsePayload{
		RequestID: r.RequestID,
		Value:     value,
	})
	m.TargetID = r.SourceID
	return m
}
