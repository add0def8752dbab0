// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/oracle"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/tools"
)

// ErrMissingCollaborator is returned by New when a required oracle is nil.
var ErrMissingCollaborator = errors.New("graph: missing required collaborator")

// Fault classifies a stage failure.
type Fault string

const (
	// FaultTool is an unknown tool or a tool execution error.
	FaultTool Fault = "ToolFault"

	// FaultOracle is a transport or service error from an oracle.
	FaultOracle Fault = "OracleFault"

	// FaultOracleParse is an oracle answer that does not decode.
	FaultOracleParse Fault = "OracleParseFault"

	// FaultPanic is a recovered panic inside a node.
	FaultPanic Fault = "PanicFault"

	// FaultRetrieval is a policy lookup failure. It never diverts the graph.
	FaultRetrieval Fault = "RetrievalFault"
)

// StageError is a failure captured at a stage boundary.
type StageError struct {
	Stage string
	Fault Fault
	Err   error
}

// Error renders "<stage>: <fault>: <message>", the form stored on the
// state and surfaced in the error decision.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Fault, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// classify wraps err for stage. Existing StageErrors pass through, parse
// sentinels become FaultOracleParse, tool sentinels become FaultTool and
// anything else is treated as an oracle failure.
func classify(stage string, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	fault := FaultOracle
	switch {
	case errors.Is(err, oracle.ErrNoJSON),
		errors.Is(err, oracle.ErrMalformedPayload),
		errors.Is(err, oracle.ErrMissingField):
		fault = FaultOracleParse
	case errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, tools.ErrInvalidArguments):
		fault = FaultTool
	}
	return &StageError{Stage: stage, Fault: fault, Err: err}
}
