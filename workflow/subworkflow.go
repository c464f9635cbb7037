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
	"fmt"

	"github.com/flowgraph/flowgraph/log"
)

type subWorkflowConfig struct {
	outputType  string
	runnerOpts  []RunnerOption
	extraInputs []string
}

// SubWorkflowOption configures WrapWorkflow.
type SubWorkflowOption func(*subWorkflowConfig)

// WithSubWorkflowOutputType routes the child's yielded outputs onward as
// messages of the given type instead of yielding them from the wrapper.
func WithSubWorkflowOutputType(msgType string) SubWorkflowOption {
	return func(c *subWorkflowConfig) {
		c.outputType = msgType
	}
}

// WithSubWorkflowRunnerOptions passes options to the nested runner.
func WithSubWorkflowRunnerOptions(opts ...RunnerOption) SubWorkflowOption {
	return func(c *subWorkflowConfig) {
		c.runnerOpts = append(c.runnerOpts, opts...)
	}
}

// WithSubWorkflowInputTypes accepts additional message types as forwarding
// inputs beyond the child start executor's declared handlers.
func WithSubWorkflowInputTypes(types ...string) SubWorkflowOption {
	return func(c *subWorkflowConfig) {
		c.extraInputs = append(c.extraInputs, types...)
	}
}

// subWorkflowExecutor is the immutable wrapper configuration shared by all
// runs of the parent workflow. Everything that changes during a run lives in
// subWorkflowState, held in the wrapper executor's private state.
type subWorkflowExecutor struct {
	child *Workflow
	cfg   subWorkflowConfig
}

// subWorkflowState is the per-parent-run bridge to one nested runner. It is
// stored as the wrapper executor's private state, so each parent Runner
// drives its own child runner and the built Workflow stays reusable. Handler
// invocations for one executor are serialized by the runner, so no locking is
// needed here. The nested runner is not serializable; after a checkpoint
// restore the wrapper starts from a fresh child runner.
type subWorkflowState struct {
	runner *Runner

	// forwarded tracks child request ids already surfaced outward so a later
	// turn does not raise them twice.
	forwarded map[string]bool
	// answered tracks request ids resolved by interceptors.
	answered map[string]bool

	eventIdx  int
	outputIdx int
}

// WrapWorkflow wraps a complete child workflow as a single executor of a
// parent graph. Messages delivered to the wrapper are forwarded into a nested
// runner; nested outputs and events are surfaced outward as if the wrapper
// produced them directly. Request-info messages raised by the child are first
// offered to a parent interceptor registered for (type, child workflow id);
// unclaimed requests suspend the composite run through the ordinary
// request-info mechanism.
func WrapWorkflow(id string, child *Workflow, opts ...SubWorkflowOption) *Executor {
	var cfg subWorkflowConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &subWorkflowExecutor{child: child, cfg: cfg}

	exec := NewExecutor(id)

	// Forward every input type the child's start executor accepts.
	inputTypes := map[string]bool{}
	if start, ok := child.Executor(child.StartExecutorID()); ok {
		for t := range start.handlers {
			inputTypes[t] = true
		}
	}
	for _, t := range cfg.extraInputs {
		inputTypes[t] = true
	}
	for t := range inputTypes {
		exec.OnMessage(t, w.handleInput)
	}

	// Accept responses for every request-info type the child declares.
	for t := range child.requestTypes {
		exec.OnMessage(ResponseType(t), w.handleResponse)
	}

	return exec
}

// state returns this parent run's bridge state, creating it (and a fresh
// nested runner) on the run's first delivery to the wrapper.
func (w *subWorkflowExecutor) state(ec *ExecContext) *subWorkflowState {
	if st, ok := ec.State().(*subWorkflowState); ok && st != nil {
		return st
	}
	st := &subWorkflowState{
		runner:    NewRunner(w.child, w.cfg.runnerOpts...),
		forwarded: make(map[string]bool),
		answered:  make(map[string]bool),
	}
	ec.SetState(st)
	return st
}

// handleInput forwards a parent message into the nested runner and drains it.
func (w *subWorkflowExecutor) handleInput(ctx context.Context, ec *ExecContext, msg *Message) error {
	st := w.state(ec)
	in := NewMessage(msg.Type, msg.Payload)
	_, err := st.runner.Run(ctx, in)
	return w.drain(ctx, ec, st, err)
}

// handleResponse pipes an external answer down to the suspended child.
func (w *subWorkflowExecutor) handleResponse(ctx context.Context, ec *ExecContext, msg *Message) error {
	payload, ok := asResponsePayload(msg.Payload)
	if !ok {
		return &InvariantError{
			ExecutorID:  ec.ExecutorID(),
			MessageType: msg.Type,
			Reason:      "malformed request-info response payload",
		}
	}
	st := w.state(ec)
	_, err := st.runner.SendResponses(ctx, map[string]any{payload.RequestID: payload.Value})
	return w.drain(ctx, ec, st, err)
}

// drain surfaces everything the child produced since the last turn: events,
// outputs, and unanswered requests. Interceptable requests are answered
// in-place and the child resumed, repeatedly, until nothing more can be
// satisfied locally.
//
// A child run failure aborts only this branch: it has already surfaced as
// the child's workflow.failed event, so the parent run continues. A driver
// error that produced no child event (rejected input, bad response routing)
// is returned and fails the wrapper invocation instead of vanishing.
func (w *subWorkflowExecutor) drain(ctx context.Context, ec *ExecContext, st *subWorkflowState, runErr error) error {
	for {
		w.surface(ec, st)
		if runErr != nil {
			if st.runner.State() == RunnerFailed {
				log.Debugf("sub-workflow %s branch failed: %v", w.child.ID(), runErr)
				return nil
			}
			return fmt.Errorf("sub-workflow %s driver error: %w", w.child.ID(), runErr)
		}

		answers := make(map[string]any)
		for _, rec := range st.runner.PendingRequests() {
			if st.forwarded[rec.RequestID] || st.answered[rec.RequestID] {
				continue
			}
			fn, ok := ec.wf.Interceptor(rec.Message.Type, w.child.ID())
			if ok {
				if res := fn(rec.Message); res.handled {
					answers[rec.RequestID] = res.value
					st.answered[rec.RequestID] = true
					continue
				}
			}
			outer := &RequestInfoRecord{
				RequestID:     rec.RequestID,
				Message:       rec.Message,
				SourceID:      ec.ExecutorID(),
				SubWorkflowID: w.child.ID(),
			}
			ec.raiseRequest(outer)
			st.forwarded[rec.RequestID] = true
		}
		if len(answers) == 0 {
			return nil
		}
		_, runErr = st.runner.SendResponses(ctx, answers)
	}
}

// surface re-emits the child's new events and outputs through the wrapper.
// Child request.info events are withheld: whether a child request surfaces at
// all is the wrapper's decision, and forwarding one raises the parent's own
// request.info event, so passing the child's copy through would double it and
// intercepted requests would leak an event despite never suspending anything.
func (w *subWorkflowExecutor) surface(ec *ExecContext, st *subWorkflowState) {
	res := st.runner.Result()
	for _, evt := range res.Events[st.eventIdx:] {
		if evt.Type == EventRequestInfo {
			continue
		}
		ec.addTypedEvent(evt)
	}
	st.eventIdx = len(res.Events)

	for _, out := range res.Outputs[st.outputIdx:] {
		if w.cfg.outputType != "" {
			ec.SendMessage(NewMessage(w.cfg.outputType, out))
		} else {
			ec.YieldOutput(out)
		}
	}
	st.outputIdx = len(res.Outputs)
}

// asResponsePayload tolerates both the in-memory struct and the generic map
// shape produced by a checkpoint round-trip.
func asResponsePayload(v any) (ResponsePayload, bool) {
	switch p := v.(type) {
	case ResponsePayload:
		return p, true
	case *ResponsePayload:
		return *p, true
	case map[string]any:
		id, ok := p["request_id"].(string)
		if !ok {
			return ResponsePayload{}, false
		}
		return ResponsePayload{RequestID: id, Value: p["value"]}, true
	}
	return ResponsePayload{}, false
}
