//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/flowgraph/flowgraph/agent"
	"github.com/flowgraph/flowgraph/workflow"
)

// Message types of the orchestration graph.
const (
	msgTypeInput = "handoff.input"
	msgTypeTurn  = "handoff.turn"
	msgTypeReply = "handoff.reply"
	msgTypeHuman = "handoff.human"
)

// coordinatorID is the reserved executor id of the coordinator.
const coordinatorID = "coordinator"

// transcriptKey is the shared-state key holding the conversation transcript.
const transcriptKey = "handoff.transcript"

// turnPayload is the coordinator-to-participant turn message body.
type turnPayload struct {
	Target     string          `json:"target"`
	Transcript []agent.Message `json:"transcript"`
}

// replyPayload is the participant-to-coordinator raw output message body.
type replyPayload struct {
	Participant string `json:"participant"`
	Content     string `json:"content"`
}

// coordState is the coordinator's private state: the active-participant
// pointer and the transfer bookkeeping. It is checkpointed with the run.
type coordState struct {
	Active string `json:"active"`
	// Handoffs counts transfers and rejected transfer attempts.
	// Self-handoffs never count.
	Handoffs int `json:"handoffs"`
	// Path is the observed transfer path, starting at the entry participant.
	Path []string `json:"path"`
	// SelfStreak counts consecutive self-handoffs of the active participant.
	SelfStreak int `json:"self_streak"`
}

// Participant pairs an agent with its handoff allow-list.
type Participant struct {
	// Agent produces the participant's raw output each turn.
	Agent agent.Agent
	// AllowedTargets restricts whom this participant may hand off to.
	// Nil allows every other participant.
	AllowedTargets []string
}

type participantRuntime struct {
	agent   agent.Agent
	allowed map[string]bool
	thread  *agent.Thread
}

// Orchestrator routes a conversation among peer participants. It is a
// state machine expressed entirely as a workflow: one executor per
// participant, a coordinator executor holding the active-participant pointer,
// switch/case edges for turn dispatch, and the request-info mechanism for
// human input.
type Orchestrator struct {
	cfg          Config
	entry        string
	participants map[string]*participantRuntime
	wf           *workflow.Workflow
}

// Result is the outcome of a completed or suspended orchestration run.
type Result struct {
	// Text is the final answer when the run completed.
	Text string
	// State is the runner state when control returned.
	State workflow.RunnerState
	// Events is the run's event stream.
	Events []*workflow.Event
	// Pending holds request-info records when the run suspended for human
	// input. Answer them through Runner.SendResponses.
	Pending []*workflow.RequestInfoRecord
	// Runner is the underlying runner, usable for resumption.
	Runner *workflow.Runner
}

// New creates an orchestrator with the given entry participant. Participant
// names must be unique, non-empty, and must not collide with the reserved
// coordinator id.
func New(entry string, participants []Participant, opts ...Option) (*Orchestrator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		cfg:          cfg,
		entry:        entry,
		participants: make(map[string]*participantRuntime, len(participants)),
	}
	for _, p := range participants {
		if p.Agent == nil {
			return nil, fmt.Errorf("participant agent cannot be nil")
		}
		name := p.Agent.Name()
		if name == "" {
			return nil, fmt.Errorf("participant name cannot be empty")
		}
		if name == coordinatorID {
			return nil, fmt.Errorf("participant name %q is reserved", coordinatorID)
		}
		if _, exists := o.participants[name]; exists {
			return nil, fmt.Errorf("duplicate participant name %q", name)
		}
		rt := &participantRuntime{agent: p.Agent, thread: p.Agent.NewThread()}
		if p.AllowedTargets != nil {
			rt.allowed = make(map[string]bool, len(p.AllowedTargets))
			for _, t := range p.AllowedTargets {
				rt.allowed[t] = true
			}
		}
		o.participants[name] = rt
	}
	if _, ok := o.participants[entry]; !ok {
		return nil, fmt.Errorf("entry participant %q is not declared", entry)
	}

	wf, err := o.buildWorkflow()
	if err != nil {
		return nil, err
	}
	o.wf = wf
	return o, nil
}

// Workflow exposes the underlying graph, e.g. for wrapping as a
// sub-workflow.
func (o *Orchestrator) Workflow() *workflow.Workflow {
	return o.wf
}

// NewRunner creates a runner for one orchestration run.
func (o *Orchestrator) NewRunner(opts ...workflow.RunnerOption) *workflow.Runner {
	return workflow.NewRunner(o.wf, opts...)
}

// InputMessage builds the external input message feeding a run.
func InputMessage(text string) *workflow.Message {
	return workflow.NewMessage(msgTypeInput, text)
}

// Run drives one orchestration run to completion or human-input suspension.
func (o *Orchestrator) Run(ctx context.Context, input string, opts ...workflow.RunnerOption) (*Result, error) {
	runner := o.NewRunner(opts...)
	res, err := runner.Run(ctx, InputMessage(input))
	if err != nil {
		return nil, err
	}
	return o.result(runner, res), nil
}

func (o *Orchestrator) result(runner *workflow.Runner, res *workflow.RunResult) *Result {
	out := &Result{
		State:   res.State,
		Events:  res.Events,
		Pending: res.PendingRequests,
		Runner:  runner,
	}
	if len(res.Outputs) > 0 {
		out.Text = fmt.Sprint(res.Outputs[len(res.Outputs)-1])
	}
	return out
}

// buildWorkflow assembles the orchestration graph: coordinator plus one
// executor per participant, switch/case turn dispatch keyed on the active
// target, and single edges carrying replies back.
func (o *Orchestrator) buildWorkflow() (*workflow.Workflow, error) {
	coordinator := workflow.NewExecutor(coordinatorID).
		OnMessage(msgTypeInput, o.handleInput).
		OnMessage(msgTypeReply, o.handleReply).
		OnMessage(workflow.ResponseType(msgTypeHuman), o.handleHumanResponse).
		WithOutputTypes(msgTypeTurn, msgTypeHuman)

	b := workflow.New("handoff").
		AddExecutor(coordinator).
		SetStartExecutor(coordinatorID).
		AddOutputExecutor(coordinatorID).
		WithMaxIterations(o.cfg.iterationBound()).
		MarkRequestInfoType(msgTypeHuman)

	names := make([]string, 0, len(o.participants))
	for name := range o.participants {
		names = append(names, name)
	}
	sort.Strings(names)

	cases := make([]workflow.SwitchCase, 0, len(names))
	for _, name := range names {
		exec := workflow.NewExecutor(name).
			OnMessage(msgTypeTurn, o.participantHandler(name)).
			WithOutputTypes(msgTypeReply)
		b.AddExecutor(exec).AddEdge(name, coordinatorID)
		cases = append(cases, workflow.SwitchCase{
			When:   matchTurnTarget(name),
			Target: name,
		})
	}
	b.AddSwitchCaseEdgeGroup(coordinatorID, cases, "")

	return b.Build()
}

func matchTurnTarget(name string) workflow.Predicate {
	return func(msg *workflow.Message) bool {
		p, ok := msg.Payload.(turnPayload)
		return ok && p.Target == name
	}
}

// participantHandler wraps one agent as a turn executor: it runs the agent
// over the transcript and sends the raw output back to the coordinator.
func (o *Orchestrator) participantHandler(name string) workflow.HandlerFunc {
	return func(ctx context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
		payload, ok := msg.Payload.(turnPayload)
		if !ok {
			return fmt.Errorf("participant %s received malformed turn payload", name)
		}
		rt := o.participants[name]
		reply, err := rt.agent.Run(ctx, payload.Transcript, rt.thread)
		if err != nil {
			return fmt.Errorf("participant %s turn failed: %w", name, err)
		}
		ec.SendMessage(workflow.NewMessage(msgTypeReply, replyPayload{
			Participant: name,
			Content:     reply.Content,
		}))
		return nil
	}
}

// handleInput seeds the transcript and hands the first turn to the entry
// participant.
func (o *Orchestrator) handleInput(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
	text := fmt.Sprint(msg.Payload)
	transcript := []agent.Message{{Role: agent.RoleUser, Content: text}}
	st := coordState{Active: o.entry, Path: []string{o.entry}}
	o.save(ec, st, transcript)
	o.sendTurn(ec, st.Active, transcript)
	return nil
}

// handleReply implements the transition function over the participant's
// parsed decision.
func (o *Orchestrator) handleReply(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
	payload, ok := msg.Payload.(replyPayload)
	if !ok {
		return fmt.Errorf("coordinator received malformed reply payload")
	}
	st := coordStateOf(ec.State())
	transcript := transcriptOf(ec)
	decision, _ := ParseDecision(payload.Content)

	switch decision.Kind {
	case DecisionHandoff:
		return o.applyHandoff(ec, st, transcript, payload, decision)
	case DecisionRespond:
		st.SelfStreak = 0
		if o.cfg.HumanInLoop && looksLikeQuestion(decision.Message) {
			transcript = appendMessage(transcript, agent.RoleAssistant, st.Active, decision.Message)
			o.save(ec, st, transcript)
			ec.SendMessage(workflow.NewMessage(msgTypeHuman, decision.Message))
			return nil
		}
		o.finalize(ec, st, transcript, firstNonEmpty(decision.Message, payload.Content))
	case DecisionComplete:
		st.SelfStreak = 0
		o.finalize(ec, st, transcript, firstNonEmpty(decision.FinalText(), payload.Content))
	}
	return nil
}

// applyHandoff handles the HANDOFF variant: self-handoffs are no-ops,
// disallowed targets are rejected onto the transcript, and the transfer
// counter is checked against the configured maximum.
func (o *Orchestrator) applyHandoff(ec *workflow.ExecContext, st coordState, transcript []agent.Message, payload replyPayload, decision *Decision) error {
	if decision.Target == st.Active {
		// No-op by contract, but a participant stuck handing off to itself
		// must still terminate.
		st.SelfStreak++
		if st.SelfStreak >= 2 {
			o.finalize(ec, st, transcript, firstNonEmpty(decision.Reason, payload.Content))
			return nil
		}
		o.save(ec, st, transcript)
		o.sendTurn(ec, st.Active, transcript)
		return nil
	}

	st.SelfStreak = 0
	st.Handoffs++
	if st.Handoffs > o.cfg.MaxHandoffs {
		o.finalize(ec, st, transcript, o.overflowText(st))
		return nil
	}

	if !o.isAllowed(st.Active, decision.Target) {
		transcript = appendMessage(transcript, agent.RoleSystem, coordinatorID,
			fmt.Sprintf("handoff from %s to %s rejected", st.Active, decision.Target))
		o.save(ec, st, transcript)
		o.sendTurn(ec, st.Active, transcript)
		return nil
	}

	from := st.Active
	st.Active = decision.Target
	st.Path = append(st.Path, decision.Target)
	transcript = appendMessage(transcript, agent.RoleAssistant, from,
		fmt.Sprintf("transferring to %s: %s", decision.Target, decision.Reason))
	ec.AddHandoffEvent(from, decision.Target, decision.Reason)
	o.save(ec, st, transcript)
	o.sendTurn(ec, st.Active, transcript)
	return nil
}

// handleHumanResponse re-injects an externally supplied answer and gives the
// turn back to the active participant.
func (o *Orchestrator) handleHumanResponse(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
	payload, ok := msg.Payload.(workflow.ResponsePayload)
	if !ok {
		return fmt.Errorf("coordinator received malformed human response payload")
	}
	st := coordStateOf(ec.State())
	transcript := transcriptOf(ec)
	transcript = appendMessage(transcript, agent.RoleUser, "", fmt.Sprint(payload.Value))
	o.save(ec, st, transcript)
	o.sendTurn(ec, st.Active, transcript)
	return nil
}

func (o *Orchestrator) isAllowed(from, target string) bool {
	if _, exists := o.participants[target]; !exists {
		return false
	}
	rt := o.participants[from]
	if rt.allowed == nil {
		return true
	}
	return rt.allowed[target]
}

func (o *Orchestrator) sendTurn(ec *workflow.ExecContext, target string, transcript []agent.Message) {
	ec.SendMessage(workflow.NewMessage(msgTypeTurn, turnPayload{
		Target:     target,
		Transcript: transcript,
	}))
}

func (o *Orchestrator) finalize(ec *workflow.ExecContext, st coordState, transcript []agent.Message, text string) {
	if strings.TrimSpace(text) == "" {
		text = "conversation ended"
	}
	transcript = appendMessage(transcript, agent.RoleAssistant, st.Active, text)
	o.save(ec, st, transcript)
	ec.YieldOutput(text)
}

func (o *Orchestrator) overflowText(st coordState) string {
	return fmt.Sprintf("could not resolve the conversation within %d handoffs (%s)",
		o.cfg.MaxHandoffs, strings.Join(st.Path, " -> "))
}

func (o *Orchestrator) save(ec *workflow.ExecContext, st coordState, transcript []agent.Message) {
	ec.SetState(st)
	ec.SetSharedValue(transcriptKey, transcript)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func appendMessage(transcript []agent.Message, role, author, content string) []agent.Message {
	return append(transcript, agent.Message{Role: role, Author: author, Content: content})
}

// coordStateOf tolerates both the in-memory struct and the generic map shape
// produced by a checkpoint round-trip.
func coordStateOf(v any) coordState {
	switch s := v.(type) {
	case coordState:
		return s
	case map[string]any:
		var st coordState
		if data, err := json.Marshal(s); err == nil {
			_ = json.Unmarshal(data, &st)
		}
		return st
	}
	return coordState{}
}

// transcriptOf reads the shared transcript, tolerating the checkpoint map
// shape.
func transcriptOf(ec *workflow.ExecContext) []agent.Message {
	v, ok := ec.SharedValue(transcriptKey)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []agent.Message:
		return t
	case []any:
		var out []agent.Message
		if data, err := json.Marshal(t); err == nil {
			_ = json.Unmarshal(data, &out)
		}
		return out
	}
	return nil
}
