//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package handoff

// Config holds the safety limits and policies of a handoff orchestration.
// All limits have conservative defaults that prevent unbounded transfer
// loops while keeping behavior predictable.
type Config struct {
	// MaxHandoffs limits how many transfers (including rejected attempts)
	// can happen in a single run. Self-handoffs never count.
	MaxHandoffs int
	// HumanInLoop suspends the run for external input when a respond
	// decision reads as a question.
	HumanInLoop bool
	// MaxIterations bounds the underlying workflow's superstep loop. Zero
	// derives a bound from MaxHandoffs.
	MaxIterations int
}

// DefaultMaxHandoffs is the transfer limit applied when none is configured.
const DefaultMaxHandoffs = 20

// DefaultConfig returns the default orchestration limits.
func DefaultConfig() Config {
	return Config{MaxHandoffs: DefaultMaxHandoffs}
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithMaxHandoffs sets the transfer limit for a run.
func WithMaxHandoffs(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHandoffs = n
		}
	}
}

// WithHumanInLoop enables request-info suspension for question-like respond
// decisions.
func WithHumanInLoop(enabled bool) Option {
	return func(c *Config) {
		c.HumanInLoop = enabled
	}
}

// WithMaxIterations overrides the derived superstep bound.
func WithMaxIterations(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxIterations = n
		}
	}
}

// iterationBound derives a superstep budget large enough for the configured
// number of transfers. Each participant turn costs two rounds (turn delivery
// and reply delivery) plus coordination overhead.
func (c Config) iterationBound() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	bound := (c.MaxHandoffs + 4) * 4
	if bound < 40 {
		bound = 40
	}
	return bound
}
