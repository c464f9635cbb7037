//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

// ExecContext is the capability object handed to each handler invocation.
// All calls are buffered: sends, state writes, events and yields become
// visible to other executors only when the current superstep commits. This is
// the core consistency guarantee of the model.
//
// An ExecContext is used by exactly one handler invocation and must not be
// retained after the handler returns.
type ExecContext struct {
	executorID string
	wf         *Workflow
	round      int

	// Read snapshots. The runner does not mutate these during the round.
	privateState any
	shared       *sharedState

	// Staged effects, drained by the runner at commit time.
	stagedMsgs     []*Message
	stagedEvents   []*Event
	stagedOutputs  []any
	stagedShared   map[string]any
	stagedRequests []*RequestInfoRecord
	newState       any
	stateWritten   bool
}

func newExecContext(executorID string, wf *Workflow, round int, private any, shared *sharedState) *ExecContext {
	return &ExecContext{
		executorID:   executorID,
		wf:           wf,
		round:        round,
		privateState: private,
		shared:       shared,
	}
}

// ExecutorID returns the id of the executor being invoked.
func (ec *ExecContext) ExecutorID() string {
	return ec.executorID
}

// WorkflowID returns the id of the running workflow.
func (ec *ExecContext) WorkflowID() string {
	return ec.wf.ID()
}

// Round returns the current superstep number.
func (ec *ExecContext) Round() int {
	return ec.round
}

// SendMessage stages a message for routing along the executor's outgoing
// edges. Delivery happens next round at the earliest.
func (ec *ExecContext) SendMessage(msg *Message) {
	m := *msg
	m.SourceID = ec.executorID
	m.TargetID = ""
	ec.stagedMsgs = append(ec.stagedMsgs, &m)
}

// SendMessageTo stages a message pinned to a specific target executor,
// bypassing edge routing.
func (ec *ExecContext) SendMessageTo(msg *Message, targetID string) {
	m := *msg
	m.SourceID = ec.executorID
	m.TargetID = targetID
	ec.stagedMsgs = append(ec.stagedMsgs, &m)
}

// State returns the executor's private state as of the start of the round.
func (ec *ExecContext) State() any {
	if ec.stateWritten {
		return ec.newState
	}
	return ec.privateState
}

// SetState stages a replacement of the executor's private state. The write is
// checkpointed with the committing round.
func (ec *ExecContext) SetState(value any) {
	ec.newState = value
	ec.stateWritten = true
}

// SharedValue reads a key from the run's shared state as of the start of the
// round. Writes staged by this invocation are visible to it.
func (ec *ExecContext) SharedValue(key string) (any, bool) {
	if ec.stagedShared != nil {
		if v, ok := ec.stagedShared[key]; ok {
			return v, true
		}
	}
	return ec.shared.get(key)
}

// SetSharedValue stages a write to the run's shared state.
func (ec *ExecContext) SetSharedValue(key string, value any) {
	if ec.stagedShared == nil {
		ec.stagedShared = make(map[string]any)
	}
	ec.stagedShared[key] = value
}

// AddEvent stages a custom event for the run's event stream.
func (ec *ExecContext) AddEvent(data any) {
	evt := NewEvent(EventCustom, ec.wf.ID())
	evt.ExecutorID = ec.executorID
	evt.Round = ec.round
	evt.Data = data
	ec.stagedEvents = append(ec.stagedEvents, evt)
}

// addTypedEvent stages a pre-built event. Used by the sub-workflow wrapper to
// re-surface nested events.
func (ec *ExecContext) addTypedEvent(evt *Event) {
	ec.stagedEvents = append(ec.stagedEvents, evt)
}

// AddHandoffEvent stages a handoff-sent event recording a control transfer
// between orchestrated participants.
func (ec *ExecContext) AddHandoffEvent(from, to string, data any) {
	evt := NewEvent(EventHandoffSent, ec.wf.ID())
	evt.ExecutorID = ec.executorID
	evt.Round = ec.round
	evt.Data = data
	evt.MessageType = from + " -> " + to
	ec.stagedEvents = append(ec.stagedEvents, evt)
}

// raiseRequest stages a request-info record. Used by the sub-workflow
// wrapper to re-surface its child's suspensions under the wrapper's id.
func (ec *ExecContext) raiseRequest(rec *RequestInfoRecord) {
	ec.stagedRequests = append(ec.stagedRequests, rec)
}

// YieldOutput stages a final output value. When a yield has committed and no
// further messages are queued, the run completes.
func (ec *ExecContext) YieldOutput(value any) {
	ec.stagedOutputs = append(ec.stagedOutputs, value)
}
