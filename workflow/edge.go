//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

// Edge is a directed arc between two executors.
type Edge struct {
	// Source is the id of the executor the edge starts at.
	Source string `json:"source"`
	// Target is the id of the executor the edge points to.
	Target string `json:"target"`
}

// Predicate decides whether a switch case fires for a message.
type Predicate func(msg *Message) bool

// SwitchCase pairs a predicate with the target that fires when it matches.
type SwitchCase struct {
	When   Predicate
	Target string
}

type edgeGroupKind int

const (
	groupSingle edgeGroupKind = iota
	groupFanOut
	groupSwitchCase
	groupFanIn
)

// EdgeGroup is a routing unit of the graph. Depending on its kind it routes a
// source message to one target, to all targets, to the first matching switch
// case, or aggregates one contribution per declared source into a fan-in
// target.
type EdgeGroup struct {
	kind edgeGroupKind

	// Single, fan-out and switch/case groups.
	source  string
	targets []string

	// Switch/case groups. Cases are evaluated in declaration order; the
	// default target fires when none match.
	cases         []SwitchCase
	defaultTarget string

	// Fan-in groups. Source order is the delivery order of the aggregated
	// list, independent of arrival order.
	sources []string
	target  string
	msgType string
}

// Kind helpers used by validation and routing.

func (g *EdgeGroup) isFanIn() bool { return g.kind == groupFanIn }

// endpoints returns every executor id the group references.
func (g *EdgeGroup) endpoints() []string {
	switch g.kind {
	case groupSingle, groupFanOut:
		return append([]string{g.source}, g.targets...)
	case groupSwitchCase:
		ids := []string{g.source}
		for _, c := range g.cases {
			ids = append(ids, c.Target)
		}
		if g.defaultTarget != "" {
			ids = append(ids, g.defaultTarget)
		}
		return ids
	case groupFanIn:
		return append(append([]string{}, g.sources...), g.target)
	}
	return nil
}

// route resolves the targets that fire for a message emitted by the group's
// source. Fan-in groups are handled separately by the runner's bucketing.
func (g *EdgeGroup) route(msg *Message) []string {
	switch g.kind {
	case groupSingle, groupFanOut:
		return g.targets
	case groupSwitchCase:
		for _, c := range g.cases {
			if c.When(msg) {
				return []string{c.Target}
			}
		}
		if g.defaultTarget != "" {
			return []string{g.defaultTarget}
		}
	}
	return nil
}

// contributesTo reports whether the given executor id is a declared fan-in
// source of this group.
func (g *EdgeGroup) contributesTo(sourceID string) bool {
	if g.kind != groupFanIn {
		return false
	}
	for _, s := range g.sources {
		if s == sourceID {
			return true
		}
	}
	return false
}
