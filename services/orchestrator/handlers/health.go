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

	"github.com/gin-gonic/gin"
)

// RetrievalStatus reports the policy retrieval mode ("normal",
// "degraded", "disabled").
type RetrievalStatus interface {
	RetrievalMode() string
}

// HealthCheck reports liveness and the policy retrieval mode. Degraded
// retrieval is still healthy: events are decided without policy context.
//
// GET /health
func HealthCheck(status RetrievalStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := "disabled"
		if status != nil {
			mode = status.RetrievalMode()
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "policy_retrieval": mode})
	}
}
