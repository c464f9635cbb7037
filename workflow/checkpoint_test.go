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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/flowgraph/checkpoint/inmemory"
	"github.com/flowgraph/flowgraph/workflow"
)

func TestRunnerSavesCheckpointEveryRound(t *testing.T) {
	wf := buildPipeline(t)
	saver := inmemory.NewSaver()
	runner := workflow.NewRunner(wf, workflow.WithCheckpointSaver(saver))

	res, err := runner.Run(context.Background(), workflow.NewMessage("text.raw", "hello"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunnerCompleted, res.State)

	ckpts, err := saver.List(context.Background(), wf.ID())
	require.NoError(t, err)
	require.Len(t, ckpts, 3, "one checkpoint per committed round")

	for i, ckpt := range ckpts {
		assert.Equal(t, workflow.CheckpointVersion, ckpt.Version)
		assert.Equal(t, wf.ID(), ckpt.WorkflowID)
		assert.Equal(t, i+1, ckpt.Iteration)
	}
	assert.NotEmpty(t, runner.LastCheckpointID())
	assert.Equal(t, ckpts[len(ckpts)-1].ID, runner.LastCheckpointID())
}

// Resuming from a mid-run checkpoint must be indistinguishable from never
// having stopped: same outputs, same terminal state.
func TestResumeFromMidRunCheckpoint(t *testing.T) {
	wf := buildPipeline(t)
	saver := inmemory.NewSaver()
	runner := workflow.NewRunner(wf, workflow.WithCheckpointSaver(saver))

	res, err := runner.Run(context.Background(), workflow.NewMessage("text.raw", "hello world"))
	require.NoError(t, err)
	require.Equal(t, []any{"dlrow olleh"}, res.Outputs)

	ckpts, err := saver.List(context.Background(), wf.ID())
	require.NoError(t, err)
	require.NotEmpty(t, ckpts)

	for _, ckpt := range ckpts {
		resumed, err := workflow.ResumeFromCheckpoint(context.Background(), wf, saver, ckpt.ID)
		require.NoError(t, err)
		replayed, err := resumed.Continue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, workflow.RunnerCompleted, replayed.State, "resume from iteration %d", ckpt.Iteration)
		assert.Equal(t, res.Outputs, replayed.Outputs, "resume from iteration %d", ckpt.Iteration)
	}
}

func TestResumeFromUnknownCheckpointFails(t *testing.T) {
	wf := buildPipeline(t)
	saver := inmemory.NewSaver()
	_, err := workflow.ResumeFromCheckpoint(context.Background(), wf, saver, "missing")
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)
}

// A suspended run survives a full process restart: a fresh runner restored
// from the last checkpoint still honors SendResponses.
func TestResumeSuspendedRunFromCheckpoint(t *testing.T) {
	asker := workflow.NewExecutor("asker").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("approval.needed", "proceed?"))
			return nil
		}).
		OnMessage(workflow.ResponseType("approval.needed"), func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
			payload := msg.Payload.(workflow.ResponsePayload)
			ec.YieldOutput(fmt.Sprintf("got %v", payload.Value))
			return nil
		})
	wf, err := workflow.New("suspended").
		AddExecutor(asker).
		SetStartExecutor("asker").
		AddOutputExecutor("asker").
		MarkRequestInfoType("approval.needed").
		Build()
	require.NoError(t, err)

	saver := inmemory.NewSaver()
	first := workflow.NewRunner(wf, workflow.WithCheckpointSaver(saver))
	res, err := first.Run(context.Background(), workflow.NewMessage("in", nil))
	require.NoError(t, err)
	require.Equal(t, workflow.RunnerIdleWithPendingRequests, res.State)
	require.Len(t, res.PendingRequests, 1)
	reqID := res.PendingRequests[0].RequestID

	// Simulated restart: a brand-new runner from the last checkpoint.
	resumed, err := workflow.ResumeFromCheckpoint(context.Background(), wf, saver, first.LastCheckpointID())
	require.NoError(t, err)
	assert.Equal(t, workflow.RunnerIdleWithPendingRequests, resumed.State())
	pending := resumed.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, reqID, pending[0].RequestID)

	final, err := resumed.SendResponses(context.Background(), map[string]any{reqID: "yes"})
	require.NoError(t, err)
	assert.Equal(t, workflow.RunnerCompleted, final.State)
	require.Len(t, final.Outputs, 1)
	assert.Equal(t, "got yes", final.Outputs[0])
}

// Partial fan-in buckets are part of the snapshot: resuming between the two
// contributions still releases a complete, ordered aggregate.
func TestCheckpointPreservesPartialFanInBuckets(t *testing.T) {
	seed := workflow.NewExecutor("seed").
		OnMessage("in", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("go", nil))
			return nil
		})
	fast := workflow.NewExecutor("fast").
		OnMessage("go", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("part", "fast"))
			return nil
		})
	relay := workflow.NewExecutor("relay").
		OnMessage("go", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("bounce", nil))
			return nil
		})
	slow := workflow.NewExecutor("slow").
		OnMessage("bounce", func(_ context.Context, ec *workflow.ExecContext, _ *workflow.Message) error {
			ec.SendMessage(workflow.NewMessage("part", "slow"))
			return nil
		})
	merger := workflow.NewExecutor("merge").
		OnMessage(workflow.ListType("part"), func(_ context.Context, ec *workflow.ExecContext, msg *workflow.Message) error {
			ec.YieldOutput(msg.Payload)
			return nil
		})
	wf, err := workflow.New("partial-fanin").
		AddExecutor(seed).
		AddExecutor(fast).
		AddExecutor(relay).
		AddExecutor(slow).
		AddExecutor(merger).
		AddFanOutEdges("seed", "fast", "relay").
		AddEdge("relay", "slow").
		AddFanInEdges([]string{"fast", "slow"}, "merge", "part").
		SetStartExecutor("seed").
		AddOutputExecutor("merge").
		Build()
	require.NoError(t, err)

	saver := inmemory.NewSaver()
	runner := workflow.NewRunner(wf, workflow.WithCheckpointSaver(saver))
	res, err := runner.Run(context.Background(), workflow.NewMessage("in", nil))
	require.NoError(t, err)
	require.Equal(t, workflow.RunnerCompleted, res.State)

	ckpts, err := saver.List(context.Background(), wf.ID())
	require.NoError(t, err)

	// Find a snapshot holding a partial bucket and resume from it.
	var partialID string
	for _, ckpt := range ckpts {
		if len(ckpt.FanIn) > 0 {
			partialID = ckpt.ID
			break
		}
	}
	require.NotEmpty(t, partialID, "expected a checkpoint with a partial fan-in bucket")

	resumed, err := workflow.ResumeFromCheckpoint(context.Background(), wf, saver, partialID)
	require.NoError(t, err)
	replayed, err := resumed.Continue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Outputs, replayed.Outputs)
}
