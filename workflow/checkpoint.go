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
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current version of the checkpoint format.
const CheckpointVersion = 1

// Checkpoint is an immutable snapshot of a run at a superstep boundary.
// Because checkpoints are only taken after a round commits, they are always
// consistent; there is never a torn in-flight state to capture.
type Checkpoint struct {
	// Version is the version of the checkpoint format.
	Version int `json:"v"`
	// ID is the unique identifier of this checkpoint.
	ID string `json:"id"`
	// WorkflowID is the id of the workflow the snapshot belongs to.
	WorkflowID string `json:"workflow_id"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
	// Iteration is the number of committed supersteps.
	Iteration int `json:"iteration"`
	// Queue holds the in-flight messages grouped by destination executor.
	Queue map[string][]*Message `json:"queue"`
	// FanIn holds partial fan-in buckets keyed by group index.
	FanIn map[int]map[string]*Message `json:"fan_in,omitempty"`
	// ExecutorState holds every executor's private state.
	ExecutorState map[string]any `json:"executor_state"`
	// SharedState holds the run's shared key/value map.
	SharedState map[string]any `json:"shared_state"`
	// SharedVersion is the version counter of the shared state.
	SharedVersion int64 `json:"shared_version"`
	// PendingRequests holds unanswered request-info records.
	PendingRequests []*RequestInfoRecord `json:"pending_requests,omitempty"`
	// Yielded records whether an output has been yielded so far.
	Yielded bool `json:"yielded"`
	// Outputs holds the values yielded so far.
	Outputs []any `json:"outputs,omitempty"`
}

// NewCheckpoint creates an empty checkpoint shell for the given workflow with
// a generated id and the current time.
func NewCheckpoint(workflowID string) *Checkpoint {
	return &Checkpoint{
		Version:    CheckpointVersion,
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
	}
}

// Saver is the pluggable checkpoint storage interface. Implementations must
// treat unreadable or corrupt entries as absent when listing rather than
// failing the whole listing.
type Saver interface {
	// Save persists a checkpoint and returns its id.
	Save(ctx context.Context, ckpt *Checkpoint) (string, error)
	// Load retrieves a checkpoint by id. It returns ErrCheckpointNotFound
	// when the id is absent or the stored document cannot be read.
	Load(ctx context.Context, id string) (*Checkpoint, error)
	// List returns all readable checkpoints for a workflow.
	List(ctx context.Context, workflowID string) ([]*Checkpoint, error)
	// ListIDs returns the ids of all readable checkpoints for a workflow.
	ListIDs(ctx context.Context, workflowID string) ([]string, error)
	// Delete removes a checkpoint and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// ResumeFromCheckpoint loads a checkpoint and constructs a fresh Runner for
// the given workflow whose queue, shared state and executor state are
// initialized from the snapshot. Continuing the run is indistinguishable from
// uninterrupted execution from that point forward.
func ResumeFromCheckpoint(ctx context.Context, wf *Workflow, saver Saver, id string, opts ...RunnerOption) (*Runner, error) {
	ckpt, err := saver.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	r := NewRunner(wf, opts...)
	r.restore(ckpt)
	return r, nil
}
