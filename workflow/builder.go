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

// Builder provides a fluent interface for assembling workflows.
//
// Example usage:
//
//	wf, err := workflow.New("pipeline").
//	  AddExecutor(upper).
//	  AddExecutor(reverse).
//	  AddEdge("upper", "reverse").
//	  SetStartExecutor("upper").
//	  Build()
//
// Build validates the graph and returns an immutable Workflow that can be
// executed with NewRunner.
type Builder struct {
	wf  *Workflow
	err error
}

// New creates a builder for a workflow with the given id. An empty id gets a
// generated one.
func New(id string) *Builder {
	if id == "" {
		id = uuid.New().String()
	}
	return &Builder{
		wf: &Workflow{
			id:            id,
			executors:     make(map[string]*Executor),
			outputs:       make(map[string]bool),
			maxIterations: DefaultMaxIterations,
			requestTypes:  make(map[string]bool),
			interceptors:  make(map[interceptKey]InterceptorFunc),
		},
	}
}

// AddExecutor declares an executor. Duplicate ids fail at Build.
func (b *Builder) AddExecutor(e *Executor) *Builder {
	if b.err != nil {
		return b
	}
	if e.ID() == "" {
		b.err = validationErrorf("executor id cannot be empty")
		return b
	}
	if _, exists := b.wf.executors[e.ID()]; exists {
		b.err = validationErrorf("duplicate executor id %q", e.ID())
		return b
	}
	b.wf.executors[e.ID()] = e
	return b
}

// AddEdge adds a single always-firing edge between two executors.
func (b *Builder) AddEdge(source, target string) *Builder {
	b.addGroup(&EdgeGroup{
		kind:    groupSingle,
		source:  source,
		targets: []string{target},
	})
	return b
}

// AddFanOutEdges adds edges from one source to many targets; every target
// receives a copy of each message.
func (b *Builder) AddFanOutEdges(source string, targets ...string) *Builder {
	b.addGroup(&EdgeGroup{
		kind:    groupFanOut,
		source:  source,
		targets: append([]string{}, targets...),
	})
	return b
}

// AddSwitchCaseEdgeGroup adds conditional edges from a source. Cases are
// evaluated in declaration order; the first match fires; defaultTarget fires
// when none match. Exactly one edge fires per message.
func (b *Builder) AddSwitchCaseEdgeGroup(source string, cases []SwitchCase, defaultTarget string) *Builder {
	b.addGroup(&EdgeGroup{
		kind:          groupSwitchCase,
		source:        source,
		cases:         append([]SwitchCase{}, cases...),
		defaultTarget: defaultTarget,
	})
	return b
}

// AddFanInEdges adds edges from many sources to one target. The target
// receives a single message of type ListType(msgType) whose payload holds one
// contribution per source, ordered by the declaration order of sources.
func (b *Builder) AddFanInEdges(sources []string, target, msgType string) *Builder {
	b.addGroup(&EdgeGroup{
		kind:    groupFanIn,
		sources: append([]string{}, sources...),
		target:  target,
		msgType: msgType,
	})
	return b
}

// SetStartExecutor designates the executor that receives external input.
func (b *Builder) SetStartExecutor(id string) *Builder {
	if b.err != nil {
		return b
	}
	b.wf.startID = id
	return b
}

// AddOutputExecutor designates an executor as a workflow output.
func (b *Builder) AddOutputExecutor(id string) *Builder {
	if b.err != nil {
		return b
	}
	b.wf.outputs[id] = true
	return b
}

// WithMaxIterations bounds the superstep loop for runs of this workflow.
func (b *Builder) WithMaxIterations(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n > 0 {
		b.wf.maxIterations = n
	}
	return b
}

// MarkRequestInfoType marks a message type as request-info: messages of this
// type that no executor can satisfy suspend the run pending an external
// response.
func (b *Builder) MarkRequestInfoType(msgType string) *Builder {
	if b.err != nil {
		return b
	}
	b.wf.requestTypes[msgType] = true
	return b
}

// InterceptRequest claims request-info messages of the given type raised by
// the named sub-workflow. At most one interceptor may claim a given
// (message type, sub-workflow id) pair; a second claim fails at Build.
func (b *Builder) InterceptRequest(msgType, fromWorkflowID string, fn InterceptorFunc) *Builder {
	if b.err != nil {
		return b
	}
	key := interceptKey{msgType: msgType, workflowID: fromWorkflowID}
	if _, exists := b.wf.interceptors[key]; exists {
		b.err = &AmbiguousInterceptorError{MessageType: msgType, SubWorkflowID: fromWorkflowID}
		return b
	}
	b.wf.interceptors[key] = fn
	return b
}

// Build validates the graph and returns the immutable workflow. It fails
// with *GraphValidationError if any edge references an unknown executor, no
// start executor is set, executor ids collide, a fan-in target cannot accept
// the aggregated list type, or interceptors are ambiguous.
func (b *Builder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.wf.validate(); err != nil {
		return nil, err
	}
	return b.wf, nil
}

func (b *Builder) addGroup(g *EdgeGroup) {
	if b.err != nil {
		return
	}
	b.wf.groups = append(b.wf.groups, g)
}
