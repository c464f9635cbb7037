//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/flowgraph/workflow"
)

// transformExecutor relays a string payload through fn as a message of
// outType, or yields it when outType is empty.
func transformExecutor(id, inType, outType string, fn func(string) string) *workflow.Executor {
	return workflow.NewExecutor(id).
		OnMessage(inType, func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
			s, _ := msg.Payload.(string)
			out := fn(s)
			if outType == "" {
				ec.YieldOutput(out)
				return nil
			}
			ec.SendMessage(workflow.NewMessage(outType, out))
			return nil
		})
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func buildPipeline(t *testing.T) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.New("text-pipeline").
		AddExecutor(transformExecutor("upper", "text.raw", "text.upper", strings.ToUpper)).
		AddExecutor(transformExecutor("reverse", "text.upper", "text.reversed", reverse)).
		AddExecutor(transformExecutor("lower", "text.reversed", "", strings.ToLower)).
		AddEdge("upper", "reverse").
		AddEdge("reverse", "lower").
		SetStartExecutor("upper").
		AddOutputExecutor("lower").
		Build()
	require.NoError(t, err)
	return wf
}

func TestPipelineRunCompletes(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf)

	res, err := runner.Run(context.Background(), workflow.NewMessage("text.raw", "hello world"))
	require.NoError(t, err)

	assert.Equal(t, workflow.RunnerCompleted, res.State)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "dlrow olleh", res.Outputs[0])
	assert.Equal(t, 3, runner.Iteration())
}

func TestPipelineEventOrder(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf)

	res, err := runner.Run(context.Background(), workflow.NewMessage("text.raw", "abc"))
	require.NoError(t, err)

	var invoked []string
	for _, evt := range res.Events {
		if evt.Type == workflow.EventExecutorInvoked {
			invoked = append(invoked, evt.ExecutorID)
		}
	}
	assert.Equal(t, []string{"upper", "reverse", "lower"}, invoked)

	last := res.Events[len(res.Events)-1]
	assert.Equal(t, workflow.EventWorkflowCompleted, last.Type)
}

// One edge hop costs exactly one superstep: a message staged in round N is
// handled in round N+1, never sooner.
func TestMessagesAreVisibleNextRoundOnly(t *testing.T) {
	var rounds []int
	record := func(id, inType, outType string) *workflow.Executor {
		return workflow.NewExecutor(id).
			OnMessage(inType, func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
				rounds = append(rounds, ec.Round())
				if outType != "" {
					ec.SendMessage(workflow.NewMessage(outType, msg.Payload))
				} else {
					ec.YieldOutput(msg.Payload)
				}
				return nil
			})
	}
	wf, err := workflow.New("rounds").
		AddExecutor(record("a", "t0", "t1")).
		AddExecutor(record("b", "t1", "t2")).
		AddExecutor(record("c", "t2", "")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		SetStartExecutor("a").
		Build()
	require.NoError(t, err)

	_, err = workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("t0", "x"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, rounds)
}

func TestFanOutDeliversIndependentCopies(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]string)
	sink := func(id string) *workflow.Executor {
		return workflow.NewExecutor(id).
			OnMessage("work", func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
				mu.Lock()
				seen[ec.ExecutorID()] = msg.ID
				mu.Unlock()
				return nil
			})
	}
	wf, err := workflow.New("fanout").
		AddExecutor(transformExecutor("src", "in", "work", func(s string) string { return s })).
		AddExecutor(sink("t1")).
		AddExecutor(sink("t2")).
		AddFanOutEdges("src", "t1", "t2").
		SetStartExecutor("src").
		Build()
	require.NoError(t, err)

	res, err := workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("in", "x"))
	require.NoError(t, err)

	// Nothing yielded, queue drained.
	assert.Equal(t, workflow.RunnerIdle, res.State)
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen["t1"], seen["t2"], "fan-out copies must have distinct ids")
}

func TestSwitchCaseRoutesExactlyOneTarget(t *testing.T) {
	var handled []string
	sink := func(id string) *workflow.Executor {
		return workflow.NewExecutor(id).
			OnMessage("classified", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
				handled = append(handled, ec.ExecutorID())
				return nil
			})
	}
	classifier := workflow.NewExecutor("classify").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("classified", msg.Payload))
			return nil
		})

	isEven := func(msg *workflow.Message) bool {
		n, _ := msg.Payload.(int)
		return n%2 == 0
	}
	isSmall := func(msg *workflow.Message) bool {
		n, _ := msg.Payload.(int)
		return n < 100
	}
	wf, err := workflow.New("switch").
		AddExecutor(classifier).
		AddExecutor(sink("even")).
		AddExecutor(sink("small")).
		AddExecutor(sink("other")).
		AddSwitchCaseEdgeGroup("classify", []workflow.SwitchCase{
			{When: isEven, Target: "even"},
			{When: isSmall, Target: "small"},
		}, "other").
		SetStartExecutor("classify").
		Build()
	require.NoError(t, err)

	// 42 matches both predicates; only the first declared case fires.
	_, err = workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("in", 42))
	require.NoError(t, err)
	assert.Equal(t, []string{"even"}, handled)

	handled = nil
	_, err = workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("in", 7))
	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, handled)

	handled = nil
	_, err = workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("in", 101))
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, handled)
}

func TestPrivateStatePersistsAcrossRounds(t *testing.T) {
	counter := workflow.NewExecutor("counter").
		OnMessage("tick", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			n, _ := ec.State().(int)
			n++
			ec.SetState(n)
			if n < 3 {
				ec.SendMessageTo(workflow.NewMessage("tick", nil), "counter")
				return nil
			}
			ec.YieldOutput(n)
			return nil
		})
	wf, err := workflow.New("counting").
		AddExecutor(counter).
		SetStartExecutor("counter").
		AddOutputExecutor("counter").
		Build()
	require.NoError(t, err)

	res, err := workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("tick", nil))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, 3, res.Outputs[0])
}

// Shared-state writes committed in round N are readable in round N+1; a
// reader scheduled in the same round still sees the previous value.
func TestSharedStateRoundDelayedVisibility(t *testing.T) {
	var mu sync.Mutex
	var sameRound, nextRound any

	seed := workflow.NewExecutor("seed").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("go", nil))
			return nil
		})
	writer := workflow.NewExecutor("writer").
		OnMessage("go", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SetSharedValue("k", "written")
			ec.SendMessage(workflow.NewMessage("check", nil))
			return nil
		})
	reader := workflow.NewExecutor("reader").
		OnMessage("go", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			v, _ := ec.SharedValue("k")
			mu.Lock()
			sameRound = v
			mu.Unlock()
			return nil
		}).
		OnMessage("check", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			v, _ := ec.SharedValue("k")
			mu.Lock()
			nextRound = v
			mu.Unlock()
			return nil
		})
	wf, err := workflow.New("shared").
		AddExecutor(seed).
		AddExecutor(writer).
		AddExecutor(reader).
		AddFanOutEdges("seed", "writer", "reader").
		AddEdge("writer", "reader").
		SetStartExecutor("seed").
		Build()
	require.NoError(t, err)

	_, err = workflow.NewRunner(wf).Run(context.Background(), workflow.NewMessage("in", nil))
	require.NoError(t, err)

	assert.Nil(t, sameRound, "same-round read must not see the uncommitted write")
	assert.Equal(t, "written", nextRound, "next-round read sees the committed write")
}

func TestMaxIterationsFailsRun(t *testing.T) {
	looper := workflow.NewExecutor("loop").
		OnMessage("tick", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessageTo(workflow.NewMessage("tick", nil), "loop")
			return nil
		})
	wf, err := workflow.New("endless").
		AddExecutor(looper).
		SetStartExecutor("loop").
		WithMaxIterations(5).
		Build()
	require.NoError(t, err)

	runner := workflow.NewRunner(wf)
	res, err := runner.Run(context.Background(), workflow.NewMessage("tick", nil))
	require.Error(t, err)

	var merr *workflow.MaxIterationsError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 5, merr.Limit)
	assert.Equal(t, workflow.RunnerFailed, res.State)
	assert.Equal(t, workflow.RunnerFailed, runner.State())

	last := res.Events[len(res.Events)-1]
	assert.Equal(t, workflow.EventWorkflowFailed, last.Type)
	assert.ErrorIs(t, runner.Failure(), err)
}

func TestHandlerErrorFailsRun(t *testing.T) {
	boom := workflow.NewExecutor("boom").
		OnMessage("in", func(_ context.Context, _ *workflow.ExecContext, _ *workflow.Message) error {
			return fmt.Errorf("disk on fire")
		})
	wf, err := workflow.New("failing").
		AddExecutor(boom).
		SetStartExecutor("boom").
		Build()
	require.NoError(t, err)

	runner := workflow.NewRunner(wf)
	_, err = runner.Run(context.Background(), workflow.NewMessage("in", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, workflow.RunnerFailed, runner.State())
}

func TestRunAfterTerminalStateFails(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf)
	_, err := runner.Run(context.Background(), workflow.NewMessage("text.raw", "x"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunnerCompleted, runner.State())

	_, err = runner.Run(context.Background(), workflow.NewMessage("text.raw", "y"))
	assert.ErrorIs(t, err, workflow.ErrRunnerFinished)
}

func TestContextCancellationFailsBetweenRounds(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, workflow.NewMessage("text.raw", "x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, workflow.RunnerFailed, runner.State())
}

func TestRequestInfoSuspendAndResume(t *testing.T) {
	asker := workflow.NewExecutor("asker").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("approval.needed", "deploy to prod?"))
			return nil
		}).
		OnMessage(workflow.ResponseType("approval.needed"), func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
			payload := msg.Payload.(workflow.ResponsePayload)
			ec.YieldOutput(fmt.Sprintf("approved=%v", payload.Value))
			return nil
		})
	wf, err := workflow.New("approval").
		AddExecutor(asker).
		SetStartExecutor("asker").
		AddOutputExecutor("asker").
		MarkRequestInfoType("approval.needed").
		Build()
	require.NoError(t, err)

	runner := workflow.NewRunner(wf)
	res, err := runner.Run(context.Background(), workflow.NewMessage("in", nil))
	require.NoError(t, err)

	assert.Equal(t, workflow.RunnerIdleWithPendingRequests, res.State)
	require.Len(t, res.PendingRequests, 1)
	rec := res.PendingRequests[0]
	assert.Equal(t, "approval.needed", rec.Message.Type)
	assert.Equal(t, "asker", rec.SourceID)
	assert.Empty(t, rec.SubWorkflowID)

	var reqEvents int
	for _, evt := range res.Events {
		if evt.Type == workflow.EventRequestInfo {
			reqEvents++
			assert.Equal(t, rec.RequestID, evt.RequestID)
		}
	}
	assert.Equal(t, 1, reqEvents)

	res, err = runner.SendResponses(context.Background(), map[string]any{rec.RequestID: true})
	require.NoError(t, err)
	assert.Equal(t, workflow.RunnerCompleted, res.State)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "approved=true", res.Outputs[0])
}

func TestSendResponsesRejectsUnknownIDAtomically(t *testing.T) {
	asker := workflow.NewExecutor("asker").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("q", "?"))
			return nil
		}).
		OnMessage(workflow.ResponseType("q"), func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.YieldOutput("done")
			return nil
		})
	wf, err := workflow.New("atomic").
		AddExecutor(asker).
		SetStartExecutor("asker").
		AddOutputExecutor("asker").
		MarkRequestInfoType("q").
		Build()
	require.NoError(t, err)

	runner := workflow.NewRunner(wf)
	res, err := runner.Run(context.Background(), workflow.NewMessage("in", nil))
	require.NoError(t, err)
	require.Len(t, res.PendingRequests, 1)
	goodID := res.PendingRequests[0].RequestID

	_, err = runner.SendResponses(context.Background(), map[string]any{
		goodID:  "yes",
		"bogus": "no",
	})
	require.ErrorIs(t, err, workflow.ErrUnknownRequestID)

	// The good id must still be answerable.
	require.Len(t, runner.PendingRequests(), 1)
	final, err := runner.SendResponses(context.Background(), map[string]any{goodID: "yes"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RunnerCompleted, final.State)
}

func TestSendResponsesWithoutSuspensionFails(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf)
	_, err := runner.SendResponses(context.Background(), map[string]any{"x": 1})
	assert.ErrorIs(t, err, workflow.ErrRunnerNotSuspended)
}

func TestUnroutableNonRequestMessageIsDropped(t *testing.T) {
	src := workflow.NewExecutor("src").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("nowhere", "lost"))
			return nil
		})
	wf, err := workflow.New("dropping").
		AddExecutor(src).
		SetStartExecutor("src").
		Build()
	require.NoError(t, err)

	runner := workflow.NewRunner(wf)
	res, err := runner.Run(context.Background(), workflow.NewMessage("in", nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunnerIdle, res.State)
	assert.Empty(t, res.PendingRequests)
}

func TestBoundedConcurrencyProducesSameResult(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf, workflow.WithMaxConcurrency(1))
	res, err := runner.Run(context.Background(), workflow.NewMessage("text.raw", "Hello Go"))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "og olleh", res.Outputs[0])
}

func TestRunStreamDeliversEvents(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf, workflow.WithEventBufferSize(64))

	stream, err := runner.RunStream(context.Background(), workflow.NewMessage("text.raw", "abc"))
	require.NoError(t, err)

	var streamed []*workflow.Event
	for evt := range stream {
		streamed = append(streamed, evt)
	}
	res := runner.Result()
	assert.Equal(t, workflow.RunnerCompleted, res.State)
	assert.Equal(t, len(res.Events), len(streamed))
	assert.Equal(t, workflow.EventWorkflowCompleted, streamed[len(streamed)-1].Type)
}

// A consumer that never drains the stream must not apply backpressure to the
// run: overflow events are dropped from the channel, the run finishes, and
// Result still holds the full event log.
func TestRunStreamSlowConsumerDoesNotStallRun(t *testing.T) {
	wf := buildPipeline(t)
	runner := workflow.NewRunner(wf, workflow.WithEventBufferSize(1))

	stream, err := runner.RunStream(context.Background(), workflow.NewMessage("text.raw", "abc"))
	require.NoError(t, err)

	// Read nothing until the run is over.
	require.Eventually(t, func() bool {
		return runner.State() == workflow.RunnerCompleted
	}, 5*time.Second, 5*time.Millisecond)

	var streamed int
	for range stream {
		streamed++
	}
	res := runner.Result()
	assert.Equal(t, workflow.RunnerCompleted, res.State)
	require.Len(t, res.Outputs, 1)
	assert.Less(t, streamed, len(res.Events), "overflow must be dropped, not queued")
}
