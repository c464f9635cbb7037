//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory implementation of the checkpoint
// Saver. This is suitable for testing and debugging but not for production
// use.
package inmemory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flowgraph/flowgraph/workflow"
)

// Saver stores checkpoints as JSON documents in process memory. Documents are
// serialized on Save so that loading behaves exactly like the durable
// implementations, including payload normalization.
type Saver struct {
	mu sync.RWMutex
	// byID maps checkpoint id to the marshaled document.
	byID map[string][]byte
	// byWorkflow maps workflow id to checkpoint ids in save order.
	byWorkflow map[string][]string
	// workflowOf maps checkpoint id back to its workflow.
	workflowOf map[string]string
}

// NewSaver creates an empty in-memory saver.
func NewSaver() *Saver {
	return &Saver{
		byID:       make(map[string][]byte),
		byWorkflow: make(map[string][]string),
		workflowOf: make(map[string]string),
	}
}

// Save persists a checkpoint and returns its id.
func (s *Saver) Save(_ context.Context, ckpt *workflow.Checkpoint) (string, error) {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[ckpt.ID]; !exists {
		s.byWorkflow[ckpt.WorkflowID] = append(s.byWorkflow[ckpt.WorkflowID], ckpt.ID)
		s.workflowOf[ckpt.ID] = ckpt.WorkflowID
	}
	s.byID[ckpt.ID] = data
	return ckpt.ID, nil
}

// Load retrieves a checkpoint by id.
func (s *Saver) Load(_ context.Context, id string) (*workflow.Checkpoint, error) {
	s.mu.RLock()
	data, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, workflow.ErrCheckpointNotFound
	}
	var ckpt workflow.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, workflow.ErrCheckpointNotFound
	}
	return &ckpt, nil
}

// List returns all checkpoints for a workflow in save order.
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

// ListIDs returns the ids of all checkpoints for a workflow in save order.
func (s *Saver) ListIDs(_ context.Context, workflowID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.byWorkflow[workflowID]...), nil
}

// Delete removes a checkpoint and reports whether it existed.
func (s *Saver) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	wfID := s.workflowOf[id]
	delete(s.workflowOf, id)
	ids := s.byWorkflow[wfID]
	for i, existing := range ids {
		if existing == id {
			s.byWorkflow[wfID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}
