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
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/flowgraph/flowgraph/log"
)

// RunnerState is the lifecycle state of a Runner.
type RunnerState int32

const (
	// RunnerIdle means no pending work: the run has not started or has
	// drained without yielding output.
	RunnerIdle RunnerState = iota
	// RunnerRunning means a superstep is being processed.
	RunnerRunning
	// RunnerIdleWithPendingRequests means the run drained except for
	// unanswered request-info records.
	RunnerIdleWithPendingRequests
	// RunnerCompleted is terminal: an executor yielded output and no further
	// messages are queued.
	RunnerCompleted
	// RunnerFailed is terminal: an unrecovered error occurred.
	RunnerFailed
)

// String returns the human-readable name of the state.
func (s RunnerState) String() string {
	switch s {
	case RunnerIdle:
		return "idle"
	case RunnerRunning:
		return "running"
	case RunnerIdleWithPendingRequests:
		return "idle_with_pending_requests"
	case RunnerCompleted:
		return "completed"
	case RunnerFailed:
		return "failed"
	}
	return "unknown"
}

const defaultEventBufferSize = 256

type runnerOptions struct {
	saver           Saver
	maxConcurrency  int
	eventBufferSize int
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerOptions)

// WithCheckpointSaver enables automatic checkpointing: a checkpoint is saved
// after every committed superstep.
func WithCheckpointSaver(saver Saver) RunnerOption {
	return func(o *runnerOptions) {
		o.saver = saver
	}
}

// WithMaxConcurrency bounds how many distinct executors may run in parallel
// within one superstep. Zero or negative means unbounded.
func WithMaxConcurrency(n int) RunnerOption {
	return func(o *runnerOptions) {
		o.maxConcurrency = n
	}
}

// WithEventBufferSize sets the buffer size of the channel returned by
// RunStream (default 256). Events beyond a full buffer are dropped from the
// stream, never queued against the run.
func WithEventBufferSize(n int) RunnerOption {
	return func(o *runnerOptions) {
		if n > 0 {
			o.eventBufferSize = n
		}
	}
}

// RunResult is the outcome of driving a run until completion or suspension.
type RunResult struct {
	// State is the runner state when control returned to the caller.
	State RunnerState
	// Outputs holds every value yielded so far, in commit order.
	Outputs []any
	// Events is the full event stream of the run so far.
	Events []*Event
	// PendingRequests holds the unanswered request-info records when State is
	// RunnerIdleWithPendingRequests.
	PendingRequests []*RequestInfoRecord
}

// invocation captures one handler call of a round together with its staged
// effects, in deterministic order.
type invocation struct {
	executorID string
	msg        *Message
	ec         *ExecContext
}

// Runner drives a Workflow to completion or suspension using discrete
// supersteps. All per-run mutable state lives here; the Workflow itself is
// read-only.
type Runner struct {
	wf   *Workflow
	opts runnerOptions

	mu      sync.Mutex
	state   RunnerState
	queue   map[string][]*Message
	fanIn   map[int]map[string]*Message
	private map[string]any
	shared  *sharedState
	pending map[string]*RequestInfoRecord
	// pendingOrder preserves creation order for deterministic listings.
	pendingOrder []string
	iteration    int
	outputs      []any
	yielded      bool
	events       []*Event
	failure      error
	lastCkptID   string

	stream chan *Event
	pool   *ants.Pool
}

// NewRunner creates a runner for the given workflow.
func NewRunner(wf *Workflow, opts ...RunnerOption) *Runner {
	o := runnerOptions{eventBufferSize: defaultEventBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Runner{
		wf:      wf,
		opts:    o,
		state:   RunnerIdle,
		queue:   make(map[string][]*Message),
		fanIn:   make(map[int]map[string]*Message),
		private: make(map[string]any),
		shared:  newSharedState(),
		pending: make(map[string]*RequestInfoRecord),
	}
	return r
}

// State returns the runner's current state.
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Iteration returns the number of committed supersteps.
func (r *Runner) Iteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iteration
}

// PendingRequests returns the unanswered request-info records in creation
// order.
func (r *Runner) PendingRequests() []*RequestInfoRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

func (r *Runner) pendingLocked() []*RequestInfoRecord {
	out := make([]*RequestInfoRecord, 0, len(r.pending))
	for _, id := range r.pendingOrder {
		if rec, ok := r.pending[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// LastCheckpointID returns the id of the most recently saved checkpoint, if
// automatic checkpointing is enabled.
func (r *Runner) LastCheckpointID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCkptID
}

// Run feeds the input message to the start executor and drives supersteps
// until the run completes, fails, or suspends on pending request-info
// records.
func (r *Runner) Run(ctx context.Context, input *Message) (*RunResult, error) {
	if err := r.acceptInput(input); err != nil {
		return nil, err
	}
	return r.drive(ctx)
}

// RunStream is Run with incremental event delivery. Events are sent to the
// returned channel as supersteps commit; the channel closes when control
// would return from Run. Delivery is best-effort: if the consumer falls
// behind and the buffer fills, further events are dropped from the stream
// rather than stalling the run. The complete event log is retrievable via
// Result afterwards.
func (r *Runner) RunStream(ctx context.Context, input *Message) (<-chan *Event, error) {
	if err := r.acceptInput(input); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.stream = make(chan *Event, r.opts.eventBufferSize)
	stream := r.stream
	r.mu.Unlock()
	go func() {
		defer func() {
			r.mu.Lock()
			r.stream = nil
			r.mu.Unlock()
			close(stream)
		}()
		if _, err := r.drive(ctx); err != nil {
			log.Debugf("workflow %s stream run ended with error: %v", r.wf.ID(), err)
		}
	}()
	return stream, nil
}

// SendResponses supplies answers for pending request-info records and resumes
// scheduling. Unknown request ids fail without consuming any response.
func (r *Runner) SendResponses(ctx context.Context, responses map[string]any) (*RunResult, error) {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil, ErrRunnerNotSuspended
	}
	for id := range responses {
		if _, ok := r.pending[id]; !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownRequestID, id)
		}
	}
	for id, value := range responses {
		rec := r.pending[id]
		delete(r.pending, id)
		msg := rec.responseMessage(value)
		r.enqueueLocked(msg.TargetID, msg)
	}
	r.mu.Unlock()
	return r.drive(ctx)
}

// Result returns the current run result snapshot.
func (r *Runner) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resultLocked()
}

func (r *Runner) resultLocked() *RunResult {
	return &RunResult{
		State:           r.state,
		Outputs:         append([]any{}, r.outputs...),
		Events:          append([]*Event{}, r.events...),
		PendingRequests: r.pendingLocked(),
	}
}

func (r *Runner) acceptInput(input *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RunnerCompleted || r.state == RunnerFailed {
		return ErrRunnerFinished
	}
	m := *input
	m.TargetID = r.wf.StartExecutorID()
	r.enqueueLocked(m.TargetID, &m)
	return nil
}

// drive is the superstep loop. It processes rounds until the queue drains,
// the iteration bound trips, or the context is cancelled between rounds.
func (r *Runner) drive(ctx context.Context) (*RunResult, error) {
	r.setState(RunnerRunning)
	for {
		select {
		case <-ctx.Done():
			r.fail(ctx.Err())
			return r.Result(), ctx.Err()
		default:
		}

		batch := r.takeQueue()
		if len(batch) == 0 {
			break
		}
		if r.iteration >= r.wf.MaxIterations() {
			err := &MaxIterationsError{WorkflowID: r.wf.ID(), Limit: r.wf.MaxIterations()}
			r.fail(err)
			return r.Result(), err
		}

		invs, err := r.runRound(ctx, batch)
		if err != nil {
			r.fail(err)
			return r.Result(), err
		}
		if err := r.commit(invs); err != nil {
			r.fail(err)
			return r.Result(), err
		}
		r.mu.Lock()
		r.iteration++
		r.mu.Unlock()

		if r.opts.saver != nil {
			if err := r.saveCheckpoint(ctx); err != nil {
				r.fail(fmt.Errorf("checkpoint save failed: %w", err))
				return r.Result(), err
			}
		}
	}
	r.finish()
	return r.Result(), nil
}

// takeQueue removes and returns the full round-start queue. Messages staged
// during the round land in a fresh queue and are visible next round only.
func (r *Runner) takeQueue() map[string][]*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queue
	r.queue = make(map[string][]*Message)
	return q
}

// runRound invokes every destination's handlers. Distinct executors run
// concurrently; invocations for the same executor are serialized to protect
// private state. Results are returned in deterministic order regardless of
// scheduling.
func (r *Runner) runRound(ctx context.Context, batch map[string][]*Message) ([]*invocation, error) {
	dests := make([]string, 0, len(batch))
	for id := range batch {
		dests = append(dests, id)
	}
	sort.Strings(dests)

	round := r.Iteration()
	results := make([][]*invocation, len(dests))

	runDest := func(i int, dest string) error {
		invs, err := r.runExecutor(ctx, dest, batch[dest], round)
		if err != nil {
			return err
		}
		results[i] = invs
		return nil
	}

	if r.opts.maxConcurrency > 0 {
		if err := r.runBounded(ctx, dests, runDest); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, dest := range dests {
			i, dest := i, dest
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				return runDest(i, dest)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var flat []*invocation
	for _, invs := range results {
		flat = append(flat, invs...)
	}
	return flat, nil
}

// runBounded executes the per-destination jobs through a shared ants pool
// capped at the configured concurrency limit.
func (r *Runner) runBounded(ctx context.Context, dests []string, runDest func(int, string) error) error {
	if r.pool == nil {
		pool, err := ants.NewPool(r.opts.maxConcurrency)
		if err != nil {
			return fmt.Errorf("create worker pool: %w", err)
		}
		r.pool = pool
	}
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i, dest := range dests {
		i, dest := i, dest
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				errOnce.Do(func() { firstErr = ctx.Err() })
				return
			}
			if err := runDest(i, dest); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		})
		if submitErr != nil {
			wg.Done()
			errOnce.Do(func() { firstErr = submitErr })
		}
	}
	wg.Wait()
	return firstErr
}

// runExecutor delivers the executor's round batch sequentially. Private state
// written by an earlier invocation is visible to later invocations of the
// same executor within the round.
func (r *Runner) runExecutor(ctx context.Context, dest string, msgs []*Message, round int) ([]*invocation, error) {
	exec, ok := r.wf.Executor(dest)
	if !ok {
		return nil, &InvariantError{ExecutorID: dest, Reason: "message delivered to unknown executor"}
	}
	r.mu.Lock()
	private := r.private[dest]
	shared := r.shared
	r.mu.Unlock()

	invs := make([]*invocation, 0, len(msgs))
	for _, msg := range msgs {
		handler, ok := exec.Handler(msg.Type)
		if !ok {
			return nil, &InvariantError{
				ExecutorID:  dest,
				MessageType: msg.Type,
				Reason:      "no handler for delivered message type",
			}
		}
		ec := newExecContext(dest, r.wf, round, private, shared)
		if err := handler(ctx, ec, msg); err != nil {
			return nil, fmt.Errorf("executor %s failed handling %s: %w", dest, msg.Type, err)
		}
		if ec.stateWritten {
			private = ec.newState
		}
		invs = append(invs, &invocation{executorID: dest, msg: msg, ec: ec})
	}
	return invs, nil
}

// commit merges all staged effects of a round: private and shared state,
// events, yields, and outgoing messages (with fan-in bucketing and
// request-info conversion).
func (r *Runner) commit(invs []*invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sharedWrites := make(map[string]any)
	for _, inv := range invs {
		r.emitLocked(r.invocationEvent(EventExecutorInvoked, inv))

		if inv.ec.stateWritten {
			r.private[inv.executorID] = inv.ec.newState
		}
		for k, v := range inv.ec.stagedShared {
			sharedWrites[k] = v
		}
		for _, evt := range inv.ec.stagedEvents {
			r.emitLocked(evt)
		}
		for _, out := range inv.ec.stagedOutputs {
			r.outputs = append(r.outputs, out)
			r.yielded = true
		}
		for _, rec := range inv.ec.stagedRequests {
			r.addPendingLocked(rec)
		}
		for _, msg := range inv.ec.stagedMsgs {
			if err := r.routeLocked(msg); err != nil {
				return err
			}
		}

		r.emitLocked(r.invocationEvent(EventExecutorCompleted, inv))
	}
	r.shared.apply(sharedWrites)
	return nil
}

func (r *Runner) invocationEvent(t EventType, inv *invocation) *Event {
	evt := NewEvent(t, r.wf.ID())
	evt.ExecutorID = inv.executorID
	evt.Round = inv.ec.round
	evt.MessageType = inv.msg.Type
	return evt
}

// routeLocked places one staged message into the next round's queue, applying
// edge routing, fan-in bucketing and request-info conversion.
func (r *Runner) routeLocked(msg *Message) error {
	if msg.TargetID != "" {
		if _, ok := r.wf.Executor(msg.TargetID); !ok {
			return &InvariantError{
				ExecutorID:  msg.TargetID,
				MessageType: msg.Type,
				Reason:      "direct send to unknown executor",
			}
		}
		r.enqueueLocked(msg.TargetID, msg)
		r.emitRoutedLocked(msg, msg.TargetID)
		return nil
	}

	delivered := false
	for idx, g := range r.wf.groups {
		if g.isFanIn() {
			if !g.contributesTo(msg.SourceID) || msg.Type != g.msgType {
				continue
			}
			delivered = true
			r.contributeFanInLocked(idx, g, msg)
			continue
		}
		if g.source != msg.SourceID {
			continue
		}
		targets := g.route(msg)
		for _, t := range targets {
			m := msg
			if len(targets) > 1 {
				m = msg.Clone()
				m.SourceID = msg.SourceID
			}
			m.TargetID = t
			r.enqueueLocked(t, m)
			r.emitRoutedLocked(m, t)
		}
		if len(targets) > 0 {
			delivered = true
		}
	}
	if delivered {
		return nil
	}

	if r.wf.IsRequestInfoType(msg.Type) {
		rec := newRequestInfoRecord(msg, "", "")
		r.addPendingLocked(rec)
		return nil
	}
	log.Debugf("workflow %s: dropping unroutable message type %s from %s",
		r.wf.ID(), msg.Type, msg.SourceID)
	return nil
}

// contributeFanInLocked records one contribution and releases the aggregated
// list once every declared source has contributed. Partial buckets survive
// supersteps and are checkpointed.
func (r *Runner) contributeFanInLocked(idx int, g *EdgeGroup, msg *Message) {
	bucket := r.fanIn[idx]
	if bucket == nil {
		bucket = make(map[string]*Message)
		r.fanIn[idx] = bucket
	}
	bucket[msg.SourceID] = msg
	if len(bucket) < len(g.sources) {
		return
	}
	for _, s := range g.sources {
		if _, ok := bucket[s]; !ok {
			return
		}
	}
	// Complete: deliver in declared source order, not arrival order.
	payload := make([]any, 0, len(g.sources))
	for _, s := range g.sources {
		payload = append(payload, bucket[s].Payload)
	}
	delete(r.fanIn, idx)
	agg := NewMessage(ListType(g.msgType), payload)
	agg.TargetID = g.target
	r.enqueueLocked(g.target, agg)
	r.emitRoutedLocked(agg, g.target)
}

func (r *Runner) addPendingLocked(rec *RequestInfoRecord) {
	r.pending[rec.RequestID] = rec
	r.pendingOrder = append(r.pendingOrder, rec.RequestID)
	evt := NewEvent(EventRequestInfo, r.wf.ID())
	evt.ExecutorID = rec.SourceID
	evt.Round = r.iteration
	evt.MessageType = rec.Message.Type
	evt.RequestID = rec.RequestID
	evt.Data = rec.Message.Payload
	r.emitLocked(evt)
}

func (r *Runner) enqueueLocked(dest string, msg *Message) {
	r.queue[dest] = append(r.queue[dest], msg)
}

func (r *Runner) emitRoutedLocked(msg *Message, target string) {
	evt := NewEvent(EventMessageRouted, r.wf.ID())
	evt.ExecutorID = target
	evt.Round = r.iteration
	evt.MessageType = msg.Type
	r.emitLocked(evt)
}

// emitLocked records the event and forwards it to the stream channel without
// blocking. A consumer that stops draining must not wedge the run, so when
// the buffer is full the streamed copy is dropped; Result keeps the full log.
func (r *Runner) emitLocked(evt *Event) {
	r.events = append(r.events, evt)
	if r.stream == nil {
		return
	}
	select {
	case r.stream <- evt:
	default:
		log.Debugf("workflow %s: event stream buffer full, dropping %s", r.wf.ID(), evt.Type)
	}
}

func (r *Runner) setState(s RunnerState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// finish decides the resting state for a drained queue.
func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.yielded:
		r.state = RunnerCompleted
		evt := NewEvent(EventWorkflowCompleted, r.wf.ID())
		evt.Round = r.iteration
		evt.Data = append([]any{}, r.outputs...)
		r.emitLocked(evt)
		r.releasePoolLocked()
	case len(r.pending) > 0:
		r.state = RunnerIdleWithPendingRequests
	default:
		r.state = RunnerIdle
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RunnerFailed
	r.failure = err
	evt := NewEvent(EventWorkflowFailed, r.wf.ID())
	evt.Round = r.iteration
	evt.Error = err.Error()
	r.emitLocked(evt)
	r.releasePoolLocked()
	log.Errorf("workflow %s failed: %v", r.wf.ID(), err)
}

func (r *Runner) releasePoolLocked() {
	if r.pool != nil {
		r.pool.Release()
		r.pool = nil
	}
}

// saveCheckpoint snapshots the runner at the just-committed round boundary.
func (r *Runner) saveCheckpoint(ctx context.Context) error {
	r.mu.Lock()
	ckpt := r.snapshotLocked()
	r.mu.Unlock()
	id, err := r.opts.saver.Save(ctx, ckpt)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastCkptID = id
	r.mu.Unlock()
	return nil
}

func (r *Runner) snapshotLocked() *Checkpoint {
	ckpt := NewCheckpoint(r.wf.ID())
	ckpt.Iteration = r.iteration
	ckpt.Queue = make(map[string][]*Message, len(r.queue))
	for dest, msgs := range r.queue {
		ckpt.Queue[dest] = append([]*Message{}, msgs...)
	}
	if len(r.fanIn) > 0 {
		ckpt.FanIn = make(map[int]map[string]*Message, len(r.fanIn))
		for idx, bucket := range r.fanIn {
			b := make(map[string]*Message, len(bucket))
			for s, m := range bucket {
				b[s] = m
			}
			ckpt.FanIn[idx] = b
		}
	}
	ckpt.ExecutorState = make(map[string]any, len(r.private))
	for id, v := range r.private {
		ckpt.ExecutorState[id] = v
	}
	ckpt.SharedState = r.shared.snapshot()
	ckpt.SharedVersion = r.shared.version
	ckpt.PendingRequests = r.pendingLocked()
	ckpt.Yielded = r.yielded
	ckpt.Outputs = append([]any{}, r.outputs...)
	return ckpt
}

// restore initializes the runner from a loaded checkpoint.
func (r *Runner) restore(ckpt *Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iteration = ckpt.Iteration
	r.queue = make(map[string][]*Message, len(ckpt.Queue))
	for dest, msgs := range ckpt.Queue {
		r.queue[dest] = append([]*Message{}, msgs...)
	}
	r.fanIn = make(map[int]map[string]*Message, len(ckpt.FanIn))
	for idx, bucket := range ckpt.FanIn {
		b := make(map[string]*Message, len(bucket))
		for s, m := range bucket {
			b[s] = m
		}
		r.fanIn[idx] = b
	}
	r.private = make(map[string]any, len(ckpt.ExecutorState))
	for id, v := range ckpt.ExecutorState {
		r.private[id] = v
	}
	r.shared.restore(ckpt.SharedState)
	r.shared.version = ckpt.SharedVersion
	r.pending = make(map[string]*RequestInfoRecord, len(ckpt.PendingRequests))
	r.pendingOrder = r.pendingOrder[:0]
	for _, rec := range ckpt.PendingRequests {
		r.pending[rec.RequestID] = rec
		r.pendingOrder = append(r.pendingOrder, rec.RequestID)
	}
	r.yielded = ckpt.Yielded
	r.outputs = append([]any{}, ckpt.Outputs...)
	if len(r.pending) > 0 {
		r.state = RunnerIdleWithPendingRequests
	} else {
		r.state = RunnerIdle
	}
}

// Continue resumes the superstep loop without new input, for runners
// reconstructed from a checkpoint whose queue is non-empty.
func (r *Runner) Continue(ctx context.Context) (*RunResult, error) {
	r.mu.Lock()
	if r.state == RunnerCompleted || r.state == RunnerFailed {
		r.mu.Unlock()
		return nil, ErrRunnerFinished
	}
	r.mu.Unlock()
	return r.drive(ctx)
}

// Failure returns the error that moved the runner to RunnerFailed, if any.
func (r *Runner) Failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}
