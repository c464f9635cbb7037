//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package workflow provides a graph-based orchestration engine that composes
// independent executors into pipelines passing typed messages.
//
// Execution is driven in supersteps: bulk-synchronous rounds in which every
// queued message is delivered, handlers for distinct executors run
// concurrently, and all sends, state writes and events are staged until the
// round commits. Messages produced during round N are deliverable in round
// N+1 at the earliest, which makes execution deterministic and lets a
// checkpoint be taken at any round boundary without observing torn state.
//
// A Workflow is immutable once built; all per-run mutable state lives in the
// Runner. Complete workflows can be nested: WrapWorkflow turns a child
// workflow into a single executor of a parent graph, and the parent may
// intercept request-info messages raised by the child before they surface to
// the external caller.
package workflow
