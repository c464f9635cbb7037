//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/flowgraph/workflow"
)

func newCheckpoint(workflowID string, iteration int) *workflow.Checkpoint {
	ckpt := workflow.NewCheckpoint(workflowID)
	ckpt.Iteration = iteration
	ckpt.SharedState = map[string]any{"step": iteration}
	return ckpt
}

func newTestSaver(t *testing.T) *Saver {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSaver(client)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	ckpt := newCheckpoint("wf-1", 2)
	id, err := s.Save(ctx, ckpt)
	require.NoError(t, err)

	loaded, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)
	assert.Equal(t, 2, loaded.Iteration)
	assert.Equal(t, float64(2), loaded.SharedState["step"])
}

func TestLoadMissingCheckpoint(t *testing.T) {
	s := newTestSaver(t)
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)
}

func TestListOrdersByIteration(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	for _, it := range []int{3, 1, 2} {
		_, err := s.Save(ctx, newCheckpoint("wf-1", it))
		require.NoError(t, err)
	}
	_, err := s.Save(ctx, newCheckpoint("wf-2", 9))
	require.NoError(t, err)

	ckpts, err := s.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, ckpts, 3)
	for i, ckpt := range ckpts {
		assert.Equal(t, i+1, ckpt.Iteration)
		assert.Equal(t, "wf-1", ckpt.WorkflowID)
	}
}

func TestCorruptDocumentIsTreatedAsAbsent(t *testing.T) {
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewSaver(client)
	ctx := context.Background()

	good, err := s.Save(ctx, newCheckpoint("wf-1", 1))
	require.NoError(t, err)

	// Smash a second entry's document directly.
	bad, err := s.Save(ctx, newCheckpoint("wf-1", 2))
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, checkpointKey(bad), "{not json", 0).Err())

	_, err = s.Load(ctx, bad)
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)

	ckpts, err := s.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, ckpts, 1)
	assert.Equal(t, good, ckpts[0].ID)
}

func TestDelete(t *testing.T) {
	s := newTestSaver(t)
	ctx := context.Background()

	ckpt := newCheckpoint("wf-1", 1)
	_, err := s.Save(ctx, ckpt)
	require.NoError(t, err)

	existed, err := s.Delete(ctx, ckpt.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, ckpt.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	ids, err := s.ListIDs(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewSaverFromURLRejectsBadURL(t *testing.T) {
	_, err := NewSaverFromURL("not-a-url")
	assert.Error(t, err)
}
