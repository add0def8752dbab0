// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/handlers"
)

// Terminal palette.
var (
	colorTeal    = lipgloss.Color("#20B9B4")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

var (
	droneStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorSlate)

	routeStyles = map[datatypes.Route]lipgloss.Style{
		datatypes.RouteAutoNotify: lipgloss.NewStyle().Bold(true).Foreground(colorError),
		datatypes.RouteHITLReview: lipgloss.NewStyle().Bold(true).Foreground(colorWarning),
		datatypes.RouteMonitor:    lipgloss.NewStyle().Foreground(colorTeal),
	}
)

// renderSummary is the one-line headline printed above each decision on a
// terminal.
func renderSummary(p handlers.DecisionPayload) string {
	route := string(p.Route)
	if style, ok := routeStyles[p.Route]; ok {
		route = style.Render(route)
	} else {
		route = lipgloss.NewStyle().Foreground(colorError).Render(route)
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		droneStyle.Render(p.DroneID),
		route,
		string(p.RiskBand),
		mutedStyle.Render(fmt.Sprintf("risk %.3f  confidence %.3f  %.2fms", p.RiskScore, p.Confidence, p.LatencyMs)),
	)
}
