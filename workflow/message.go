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

// Message is the unit of data exchanged between executors. Payloads must be
// JSON-serializable for checkpointing to round-trip them.
type Message struct {
	// ID is the unique identifier of the message.
	ID string `json:"id"`
	// Type is the message type tag used for handler dispatch.
	Type string `json:"type"`
	// Payload is the message body.
	Payload any `json:"payload"`
	// SourceID is the id of the executor that produced the message. Empty for
	// external input.
	SourceID string `json:"source_id,omitempty"`
	// TargetID pins the message to a specific executor. Empty means the
	// message is routed along the graph's edges.
	TargetID string `json:"target_id,omitempty"`
}

// NewMessage creates a message of the given type with a generated id.
func NewMessage(msgType string, payload any) *Message {
	return &Message{
		ID:      uuid.New().String(),
		Type:    msgType,
		Payload: payload,
	}
}

// Clone returns a shallow copy of the message with a fresh id. Fan-out edges
// use it so each target receives an independently addressable copy.
func (m *Message) Clone() *Message {
	c := *m
	c.ID = uuid.New().String()
	return &c
}

// ListType returns the message type delivered to a fan-in target aggregating
// messages of the given element type.
func ListType(elemType string) string {
	return "list<" + elemType + ">"
}

// ResponseType returns the message type carrying the answer to a request-info
// message of the given type.
func ResponseType(requestType string) string {
	return requestType + ".response"
}

// ResponsePayload is the payload of a request-info response message.
type ResponsePayload struct {
	// RequestID correlates the response with the suspended request.
	RequestID string `json:"request_id"`
	// Value is the externally supplied answer.
	Value any `json:"value"`
}
