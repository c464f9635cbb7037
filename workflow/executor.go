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
	"context"
)

// HandlerFunc processes one message delivered to an executor. Everything the
// handler does through the ExecContext is staged and becomes visible to other
// executors only when the current superstep commits.
type HandlerFunc func(ctx context.Context, ec *ExecContext, msg *Message) error

// Executor is a named processing unit of a workflow. It carries a dispatch
// table from message type to handler, built at construction time, and
// declares its output message types for static validation. Private per-run
// state is owned by the Runner and accessed through the ExecContext.
type Executor struct {
	id          string
	handlers    map[string]HandlerFunc
	outputTypes []string
}

// NewExecutor creates an executor with the given id. Handlers are attached
// with OnMessage before the executor is added to a builder.
func NewExecutor(id string) *Executor {
	return &Executor{
		id:       id,
		handlers: make(map[string]HandlerFunc),
	}
}

// ID returns the executor's unique id.
func (e *Executor) ID() string {
	return e.id
}

// OnMessage registers a handler for the given message type. Registering a
// second handler for the same type replaces the first.
func (e *Executor) OnMessage(msgType string, fn HandlerFunc) *Executor {
	e.handlers[msgType] = fn
	return e
}

// WithOutputTypes declares the message types this executor may emit. The
// declaration is informational and used by build-time validation.
func (e *Executor) WithOutputTypes(types ...string) *Executor {
	e.outputTypes = append(e.outputTypes, types...)
	return e
}

// Accepts reports whether the executor declares a handler for the given
// message type.
func (e *Executor) Accepts(msgType string) bool {
	_, ok := e.handlers[msgType]
	return ok
}

// Handler returns the handler registered for the given message type.
func (e *Executor) Handler(msgType string) (HandlerFunc, bool) {
	fn, ok := e.handlers[msgType]
	return fn, ok
}

// OutputTypes returns the declared output message types.
func (e *Executor) OutputTypes() []string {
	return e.outputTypes
}
