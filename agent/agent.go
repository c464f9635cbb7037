//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package agent defines the capability contract the orchestration engine
// requires from conversational participants. The engine treats this purely as
// an interface; any chat or completion backend can satisfy it.
package agent

import (
	"context"

	"github.com/google/uuid"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation transcript.
type Message struct {
	// Role is one of the Role constants.
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// Author optionally names the participant that produced the message.
	Author string `json:"author,omitempty"`
}

// Reply is a complete response produced by an agent.
type Reply struct {
	// Content is the response text.
	Content string `json:"content"`
}

// ReplyChunk is one fragment of a streamed response.
type ReplyChunk struct {
	// Delta is the incremental response text.
	Delta string `json:"delta"`
	// Done marks the final chunk of the stream.
	Done bool `json:"done"`
}

// Thread is an opaque conversation handle an agent may use to retain backend
// side context across turns.
type Thread struct {
	// ID is the unique identifier of the thread.
	ID string `json:"id"`
}

// NewThread creates a thread handle with a generated id.
func NewThread() *Thread {
	return &Thread{ID: uuid.New().String()}
}

// Agent is the capability contract consumed by the handoff orchestrator and
// executor wrappers: given prior messages and an optional thread handle,
// produce a complete response or a stream of fragments.
type Agent interface {
	// Name returns the agent's stable identifier.
	Name() string
	// Run produces a complete response to the conversation so far.
	Run(ctx context.Context, msgs []Message, thread *Thread) (*Reply, error)
	// RunStream produces the response as incremental fragments. The channel
	// closes after the final chunk.
	RunStream(ctx context.Context, msgs []Message, thread *Thread) (<-chan ReplyChunk, error)
	// NewThread obtains a fresh conversation thread handle.
	NewThread() *Thread
}
