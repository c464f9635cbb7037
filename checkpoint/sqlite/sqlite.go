//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed checkpoint Saver for durable
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowgraph/flowgraph/log"
	"github.com/flowgraph/flowgraph/workflow"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"checkpoint_id TEXT NOT NULL, " +
		"workflow_id TEXT NOT NULL, " +
		"ts INTEGER NOT NULL, " +
		"iteration INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (checkpoint_id)" +
		")"

	insertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"checkpoint_id, workflow_id, ts, iteration, checkpoint_json) VALUES (?, ?, ?, ?, ?)"

	selectByID = "SELECT checkpoint_json FROM checkpoints WHERE checkpoint_id = ? LIMIT 1"

	selectByWorkflow = "SELECT checkpoint_json FROM checkpoints " +
		"WHERE workflow_id = ? ORDER BY iteration ASC, ts ASC"

	selectIDsByWorkflow = "SELECT checkpoint_id FROM checkpoints " +
		"WHERE workflow_id = ? ORDER BY iteration ASC, ts ASC"

	deleteByID = "DELETE FROM checkpoints WHERE checkpoint_id = ?"
)

// Saver persists checkpoints in a SQLite database, one row per checkpoint.
type Saver struct {
	db *sql.DB
}

// NewSaver opens (and if necessary initializes) the database at path.
// Use ":memory:" for an ephemeral database.
func NewSaver(path string) (*Saver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize checkpoint table: %w", err)
	}
	return &Saver{db: db}, nil
}

// NewSaverWithDB wraps an existing database handle. The schema is created if
// missing; the caller keeps ownership of the handle.
func NewSaverWithDB(db *sql.DB) (*Saver, error) {
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("initialize checkpoint table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Saver) Close() error {
	return s.db.Close()
}

// Save persists a checkpoint and returns its id.
func (s *Saver) Save(ctx context.Context, ckpt *workflow.Checkpoint) (string, error) {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, insertCheckpoint,
		ckpt.ID, ckpt.WorkflowID, ckpt.Timestamp.UnixNano(), ckpt.Iteration, data)
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return ckpt.ID, nil
}

// Load retrieves a checkpoint by id.
func (s *Saver) Load(ctx context.Context, id string) (*workflow.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, selectByID, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	var ckpt workflow.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		log.Warnf("checkpoint %s is corrupt: %v", id, err)
		return nil, workflow.ErrCheckpointNotFound
	}
	return &ckpt, nil
}

// List returns all readable checkpoints for a workflow ordered by iteration.
// Corrupt rows are skipped.
func (s *Saver) List(ctx context.Context, workflowID string) ([]*workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, selectByWorkflow, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ckpt workflow.Checkpoint
		if err := json.Unmarshal(data, &ckpt); err != nil {
			continue
		}
		out = append(out, &ckpt)
	}
	return out, rows.Err()
}

// ListIDs returns the ids of all checkpoints for a workflow ordered by
// iteration.
func (s *Saver) ListIDs(ctx context.Context, workflowID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, selectIDsByWorkflow, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a checkpoint and reports whether it existed.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, deleteByID, id)
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
