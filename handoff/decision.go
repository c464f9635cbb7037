//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package handoff

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DecisionKind discriminates the variants of a participant's decision.
type DecisionKind string

const (
	// DecisionHandoff transfers control to another participant.
	DecisionHandoff DecisionKind = "handoff"
	// DecisionRespond answers with an assistant message.
	DecisionRespond DecisionKind = "respond"
	// DecisionComplete finalizes the run.
	DecisionComplete DecisionKind = "complete"
)

// Decision is the structured outcome parsed from a participant's raw output.
// It is transient: it exists only within one orchestrator turn.
type Decision struct {
	// Kind is the decision variant.
	Kind DecisionKind `json:"decision"`
	// Target is the participant to transfer to (handoff only).
	Target string `json:"target,omitempty"`
	// Reason is the stated transfer reason (handoff only).
	Reason string `json:"reason,omitempty"`
	// Message is the assistant message (respond and complete).
	Message string `json:"message,omitempty"`
	// Summary is the completion summary (complete only).
	Summary string `json:"summary,omitempty"`
}

var (
	transferDirective = regexp.MustCompile(`(?m)^\s*transfer_to_([A-Za-z0-9_-]+)\s*:\s*(.*)$`)
	completeDirective = regexp.MustCompile(`(?m)^\s*complete_task\s*:\s*(.*)$`)
)

// ParseDecision extracts a structured decision from raw participant output.
// Parsing degrades in layers: a strict JSON decision document first, then a
// legacy textual directive scan, and finally the raw text as a plain
// response. The bool result reports whether a structured form (JSON or
// directive) was found; a plain-response fallback returns false.
func ParseDecision(raw string) (*Decision, bool) {
	trimmed := strings.TrimSpace(raw)

	if d, ok := parseJSONDecision(trimmed); ok {
		return d, true
	}
	if d, ok := scanDirectives(trimmed); ok {
		return d, true
	}
	return &Decision{Kind: DecisionRespond, Message: trimmed}, false
}

func parseJSONDecision(raw string) (*Decision, bool) {
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, false
	}
	switch d.Kind {
	case DecisionHandoff:
		if d.Target == "" {
			return nil, false
		}
		return &d, true
	case DecisionRespond, DecisionComplete:
		return &d, true
	}
	return nil, false
}

// scanDirectives is the legacy fallback: transfer_to_<name>: reason and
// complete_task: summary lines anywhere in the output.
func scanDirectives(raw string) (*Decision, bool) {
	if m := transferDirective.FindStringSubmatch(raw); m != nil {
		return &Decision{
			Kind:   DecisionHandoff,
			Target: m[1],
			Reason: strings.TrimSpace(m[2]),
		}, true
	}
	if m := completeDirective.FindStringSubmatch(raw); m != nil {
		return &Decision{
			Kind:    DecisionComplete,
			Summary: strings.TrimSpace(m[1]),
		}, true
	}
	return nil, false
}

// FinalText joins whichever of summary and message a completion carries.
func (d *Decision) FinalText() string {
	parts := make([]string, 0, 2)
	if d.Summary != "" {
		parts = append(parts, d.Summary)
	}
	if d.Message != "" {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, "\n")
}

// looksLikeQuestion is the human-in-the-loop heuristic: a respond message
// that reads as a question suspends for human input instead of finalizing.
func looksLikeQuestion(text string) bool {
	return strings.Contains(text, "?")
}
