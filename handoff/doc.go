//
// Tencent is pleased to support the open source community by making flowgraph available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package handoff orchestrates a conversation among peer agents that may
// transfer control to each other.
//
// The orchestration is expressed as a workflow: one executor per participant,
// plus a coordinator executor that holds the active-participant pointer,
// parses each raw agent reply into a decision, and routes the next turn
// through a switch/case edge group. Handoffs are bounded by a configurable
// maximum, allow-lists restrict who may transfer to whom, and human-in-loop
// questions suspend the run through the workflow request-info mechanism.
package handoff
