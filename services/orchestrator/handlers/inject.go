// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/simulator"
)

// HandleInjectBreach runs a scenario through the processor and returns
// one payload per event, in scenario order.
//
// GET /v1/sim/inject/altitude-breach?include_trace=bool&scenario_path=name
//
// scenario_path is resolved inside scenarioRoot and may not escape it.
// Without it the default scenario is used.
func HandleInjectBreach(proc EventProcessor, scenarioRoot string) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeTrace, err := boolQuery(c, "include_trace")
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "include_trace "+err.Error())
			return
		}

		var events []datatypes.TelemetryEvent
		if name := c.Query("scenario_path"); name != "" {
			if !filepath.IsLocal(name) {
				errorResponse(c, http.StatusBadRequest, "scenario_path must be a relative path inside the scenario directory")
				return
			}
			events, err = simulator.LoadScenario(filepath.Join(scenarioRoot, name))
		} else {
			events, err = simulator.Resolve("")
		}
		if err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}

		out := make([]DecisionPayload, 0, len(events))
		for _, event := range events {
			res := proc.ProcessEvent(c.Request.Context(), event, includeTrace)
			out = append(out, NewDecisionPayload(res, includeTrace))
		}
		c.JSON(http.StatusOK, gin.H{"events": out})
	}
}
