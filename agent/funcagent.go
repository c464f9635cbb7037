//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
)

// RunFunc produces a response for a conversation.
type RunFunc func(ctx context.Context, msgs []Message) (string, error)

// FuncAgent adapts a plain function to the Agent contract. It is the
// reference implementation used by tests and examples; production callers
// wrap their model backend the same way.
type FuncAgent struct {
	name string
	fn   RunFunc
}

// NewFuncAgent creates an agent with the given name backed by fn.
func NewFuncAgent(name string, fn RunFunc) *FuncAgent {
	return &FuncAgent{name: name, fn: fn}
}

// Name returns the agent's identifier.
func (a *FuncAgent) Name() string {
	return a.name
}

// Run invokes the backing function.
func (a *FuncAgent) Run(ctx context.Context, msgs []Message, _ *Thread) (*Reply, error) {
	content, err := a.fn(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return &Reply{Content: content}, nil
}

// RunStream invokes the backing function and delivers the response as a
// single terminal chunk.
func (a *FuncAgent) RunStream(ctx context.Context, msgs []Message, thread *Thread) (<-chan ReplyChunk, error) {
	reply, err := a.Run(ctx, msgs, thread)
	if err != nil {
		return nil, err
	}
	ch := make(chan ReplyChunk, 1)
	ch <- ReplyChunk{Delta: reply.Content, Done: true}
	close(ch)
	return ch, nil
}

// NewThread obtains a fresh thread handle.
func (a *FuncAgent) NewThread() *Thread {
	return NewThread()
}
