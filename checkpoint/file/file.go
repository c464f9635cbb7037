//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package file provides a file-backed checkpoint Saver persisting one JSON
// document per checkpoint, named by checkpoint id. Writes are atomic
// (temp file plus rename) and unreadable or corrupt files are excluded from
// listings rather than failing them.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowgraph/flowgraph/log"
	"github.com/flowgraph/flowgraph/workflow"
)

const checkpointExt = ".json"

// Saver stores checkpoints under a directory, one file per checkpoint.
type Saver struct {
	dir string
}

// NewSaver creates a file saver rooted at dir, creating it if needed.
func NewSaver(dir string) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Saver{dir: dir}, nil
}

func (s *Saver) path(id string) string {
	return filepath.Join(s.dir, id+checkpointExt)
}

// Save persists a checkpoint atomically and returns its id.
func (s *Saver) Save(_ context.Context, ckpt *workflow.Checkpoint) (string, error) {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, "ckpt-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, s.path(ckpt.ID)); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return ckpt.ID, nil
}

// Load retrieves a checkpoint by id. Missing and unreadable files both
// surface as ErrCheckpointNotFound.
func (s *Saver) Load(_ context.Context, id string) (*workflow.Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, workflow.ErrCheckpointNotFound
	}
	var ckpt workflow.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		log.Warnf("checkpoint file %s is corrupt: %v", s.path(id), err)
		return nil, workflow.ErrCheckpointNotFound
	}
	return &ckpt, nil
}

// List returns all readable checkpoints for a workflow ordered by timestamp.
func (s *Saver) List(ctx context.Context, workflowID string) ([]*workflow.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*workflow.Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), checkpointExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), checkpointExt)
		ckpt, err := s.Load(ctx, id)
		if err != nil {
			// Corrupt files are absent, not fatal.
			continue
		}
		if ckpt.WorkflowID != workflowID {
			continue
		}
		out = append(out, ckpt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Iteration != out[j].Iteration {
			return out[i].Iteration < out[j].Iteration
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// ListIDs returns the ids of all readable checkpoints for a workflow.
func (s *Saver) ListIDs(ctx context.Context, workflowID string) ([]string, error) {
	ckpts, err := s.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ckpts))
	for _, ckpt := range ckpts {
		ids = append(ids, ckpt.ID)
	}
	return ids, nil
}

// Delete removes a checkpoint file and reports whether it existed.
func (s *Saver) Delete(_ context.Context, id string) (bool, error) {
	err := os.Remove(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
