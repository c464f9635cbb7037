//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed checkpoint Saver for deployments
// that already run Redis for shared state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowgraph/flowgraph/log"
	"github.com/flowgraph/flowgraph/workflow"
)

const (
	keyPrefixCheckpoint = "flowgraph:ckpt:"
	keyPrefixWorkflow   = "flowgraph:ckpt_wf:"
	keyPrefixOwner      = "flowgraph:ckpt_owner:"
)

// Saver persists checkpoints in Redis: one string key per checkpoint plus a
// per-workflow sorted set ordered by iteration for listings.
type Saver struct {
	client redis.UniversalClient
}

// NewSaver creates a saver backed by the given client. The caller keeps
// ownership of the client.
func NewSaver(client redis.UniversalClient) *Saver {
	return &Saver{client: client}
}

// NewSaverFromURL creates a saver from a redis URL such as
// "redis://localhost:6379/0".
func NewSaverFromURL(url string) (*Saver, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Saver{client: redis.NewClient(opts)}, nil
}

func checkpointKey(id string) string { return keyPrefixCheckpoint + id }
func workflowKey(id string) string   { return keyPrefixWorkflow + id }
func ownerKey(id string) string      { return keyPrefixOwner + id }

// Save persists a checkpoint and returns its id.
func (s *Saver) Save(ctx context.Context, ckpt *workflow.Checkpoint) (string, error) {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return "", err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(ckpt.ID), data, 0)
	pipe.Set(ctx, ownerKey(ckpt.ID), ckpt.WorkflowID, 0)
	pipe.ZAdd(ctx, workflowKey(ckpt.WorkflowID), redis.Z{
		Score:  float64(ckpt.Iteration),
		Member: ckpt.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store checkpoint: %w", err)
	}
	return ckpt.ID, nil
}

// Load retrieves a checkpoint by id.
func (s *Saver) Load(ctx context.Context, id string) (*workflow.Checkpoint, error) {
	data, err := s.client.Get(ctx, checkpointKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, workflow.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var ckpt workflow.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		log.Warnf("checkpoint %s is corrupt: %v", id, err)
		return nil, workflow.ErrCheckpointNotFound
	}
	return &ckpt, nil
}

// List returns all readable checkpoints for a workflow ordered by iteration.
// Missing or corrupt entries are skipped.
func (s *Saver) List(ctx context.Context, workflowID string) ([]*workflow.Checkpoint, error) {
	ids, err := s.ListIDs(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make([]*workflow.Checkpoint, 0, len(ids))
	for _, id := range ids {
		ckpt, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, ckpt)
	}
	return out, nil
}

// ListIDs returns the ids of all checkpoints for a workflow ordered by
// iteration.
func (s *Saver) ListIDs(ctx context.Context, workflowID string) ([]string, error) {
	ids, err := s.client.ZRange(ctx, workflowKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoint ids: %w", err)
	}
	return ids, nil
}

// Delete removes a checkpoint and reports whether it existed.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	workflowID, err := s.client.Get(ctx, ownerKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("resolve checkpoint owner: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, checkpointKey(id), ownerKey(id))
	pipe.ZRem(ctx, workflowKey(workflowID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	return true, nil
}
