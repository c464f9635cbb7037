//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

// DefaultMaxIterations bounds the superstep loop when the builder does not
// set an explicit limit.
const DefaultMaxIterations = 100

// InterceptorResult is the outcome of offering a sub-workflow request to a
// parent interceptor.
type InterceptorResult struct {
	handled bool
	value   any
}

// Handled satisfies the request immediately with the given value; nested
// execution resumes without any external suspension.
func Handled(value any) InterceptorResult {
	return InterceptorResult{handled: true, value: value}
}

// Forward declines the request so it falls through to the outer request-info
// mechanism and suspends the composite run.
func Forward() InterceptorResult {
	return InterceptorResult{}
}

// InterceptorFunc inspects a request-info message raised by a named
// sub-workflow and either answers it or forwards it outward.
type InterceptorFunc func(msg *Message) InterceptorResult

type interceptKey struct {
	msgType    string
	workflowID string
}

// Workflow is an immutable graph of executors and edge groups. It is built
// once through a Builder and holds no per-run mutable state; a Runner owns
// everything that changes during execution.
type Workflow struct {
	id            string
	executors     map[string]*Executor
	groups        []*EdgeGroup
	startID       string
	outputs       map[string]bool
	maxIterations int
	requestTypes  map[string]bool
	interceptors  map[interceptKey]InterceptorFunc
}

// ID returns the workflow id.
func (w *Workflow) ID() string {
	return w.id
}

// StartExecutorID returns the id of the designated start executor.
func (w *Workflow) StartExecutorID() string {
	return w.startID
}

// Executor returns the executor with the given id.
func (w *Workflow) Executor(id string) (*Executor, bool) {
	e, ok := w.executors[id]
	return e, ok
}

// ExecutorIDs returns the ids of all declared executors.
func (w *Workflow) ExecutorIDs() []string {
	ids := make([]string, 0, len(w.executors))
	for id := range w.executors {
		ids = append(ids, id)
	}
	return ids
}

// IsOutputExecutor reports whether the given id is a designated output
// executor.
func (w *Workflow) IsOutputExecutor(id string) bool {
	return w.outputs[id]
}

// MaxIterations returns the superstep bound for runs of this workflow.
func (w *Workflow) MaxIterations() int {
	return w.maxIterations
}

// IsRequestInfoType reports whether the message type is marked request-info.
func (w *Workflow) IsRequestInfoType(msgType string) bool {
	return w.requestTypes[msgType]
}

// Interceptor returns the interceptor claiming the given message type from
// the given sub-workflow, if any.
func (w *Workflow) Interceptor(msgType, subWorkflowID string) (InterceptorFunc, bool) {
	fn, ok := w.interceptors[interceptKey{msgType: msgType, workflowID: subWorkflowID}]
	return fn, ok
}

// validate checks the structural invariants the builder promises.
func (w *Workflow) validate() error {
	if w.startID == "" {
		return validationErrorf("no start executor set")
	}
	if _, ok := w.executors[w.startID]; !ok {
		return validationErrorf("start executor %q is not declared", w.startID)
	}
	for id := range w.outputs {
		if _, ok := w.executors[id]; !ok {
			return validationErrorf("output executor %q is not declared", id)
		}
	}
	for _, g := range w.groups {
		for _, id := range g.endpoints() {
			if _, ok := w.executors[id]; !ok {
				return validationErrorf("edge references undeclared executor %q", id)
			}
		}
		if g.kind == groupFanIn {
			target := w.executors[g.target]
			if !target.Accepts(ListType(g.msgType)) {
				return validationErrorf(
					"fan-in target %q does not accept aggregated type %q",
					g.target, ListType(g.msgType))
			}
		}
	}
	return nil
}
