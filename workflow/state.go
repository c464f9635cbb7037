//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

// sharedState is the versioned key/value store scoped to one run. It is
// exclusively owned by the Runner; executors reach it only through the
// ExecContext, and writes land via the staged commit at the end of a
// superstep. The version increments once per committing round that changed
// at least one key.
type sharedState struct {
	values  map[string]any
	version int64
}

func newSharedState() *sharedState {
	return &sharedState{values: make(map[string]any)}
}

func (s *sharedState) get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// apply merges staged writes and bumps the version when anything changed.
func (s *sharedState) apply(writes map[string]any) {
	if len(writes) == 0 {
		return
	}
	for k, v := range writes {
		s.values[k] = v
	}
	s.version++
}

func (s *sharedState) snapshot() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *sharedState) restore(values map[string]any) {
	s.values = make(map[string]any, len(values))
	for k, v := range values {
		s.values[k] = v
	}
}
