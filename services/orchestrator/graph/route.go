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
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
)

// RouteKind is the outcome of the post-decision routing predicate.
type RouteKind int

const (
	RouteAuto RouteKind = iota
	RouteHITL
	RouteError
)

func (k RouteKind) String() string {
	switch k {
	case RouteAuto:
		return "auto"
	case RouteHITL:
		return "hitl"
	case RouteError:
		return "error"
	default:
		return "unknown"
	}
}

// Route picks the branch after decide_route. It is total: a failed or
// incomplete state always routes to the error handler, and the HITL
// backstop applies whatever route the decision oracle chose.
func Route(s State, t datatypes.Thresholds) RouteKind {
	if s.Failure != nil || s.Assessment == nil || s.Decision == nil {
		return RouteError
	}
	if s.Decision.Route == datatypes.RouteHITLReview {
		return RouteHITL
	}
	if t.RequiresReview(s.Assessment.RiskScore, s.Assessment.Confidence) {
		return RouteHITL
	}
	return RouteAuto
}

// routeTarget maps a routing outcome to the node that handles it.
func routeTarget(k RouteKind) string {
	switch k {
	case RouteAuto:
		return NodeEmitDecision
	case RouteHITL:
		return NodeHITLApproval
	case RouteError:
		return NodeHandleError
	default:
		return NodeHandleError
	}
}
