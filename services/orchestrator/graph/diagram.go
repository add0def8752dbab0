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
	"fmt"
	"strings"
)

// Edge is one transition of the graph. Label is empty for unconditional
// edges.
type Edge struct {
	From  string
	To    string
	Label string
}

// Start is the entry pseudo-node used by Edges.
const Start = "__start__"

// Edges lists every transition the engine can take, in the order
// next() evaluates them.
func Edges() []Edge {
	return []Edge{
		{From: Start, To: NodeAssessRisk},
		{From: NodeAssessRisk, To: NodeRetrievePolicy},
		{From: NodeAssessRisk, To: NodeHandleError, Label: "error"},
		{From: NodeRetrievePolicy, To: NodeDecideRoute},
		{From: NodeDecideRoute, To: NodeEmitDecision, Label: RouteAuto.String()},
		{From: NodeDecideRoute, To: NodeHITLApproval, Label: RouteHITL.String()},
		{From: NodeDecideRoute, To: NodeHandleError, Label: RouteError.String()},
		{From: NodeHITLApproval, To: NodeEmitDecision},
		{From: NodeEmitDecision, To: End},
		{From: NodeHandleError, To: End},
	}
}

// MermaidDiagram renders the graph as a Mermaid state diagram.
func MermaidDiagram() string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	for _, edge := range Edges() {
		from, to := mermaidNode(edge.From), mermaidNode(edge.To)
		if edge.Label == "" {
			fmt.Fprintf(&b, "    %s --> %s\n", from, to)
			continue
		}
		fmt.Fprintf(&b, "    %s --> %s: %s\n", from, to, edge.Label)
	}
	return b.String()
}

func mermaidNode(name string) string {
	if name == Start || name == End {
		return "[*]"
	}
	return name
}
