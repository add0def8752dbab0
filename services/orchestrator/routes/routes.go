// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/handlers"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/middleware"
)

// Dependencies are the collaborators behind the HTTP API. Only Processor
// is required; endpoints whose dependency is nil answer 503.
type Dependencies struct {
	Processor handlers.EventProcessor
	Retrieval handlers.RetrievalStatus
	Traces    handlers.TraceReader
	Decisions handlers.DecisionReader
	Reviews   handlers.ReviewDesk

	// ReviewAuth, when set, guards the review endpoints with bearer tokens.
	ReviewAuth middleware.TokenValidator

	// ScenarioRoot bounds scenario_path on the injection endpoint.
	ScenarioRoot string

	// Metrics serves /metrics. Default: promhttp.Handler()
	Metrics http.Handler
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	root := deps.ScenarioRoot
	if root == "" {
		root = "."
	}

	router.GET("/health", handlers.HealthCheck(deps.Retrieval))
	router.GET("/metrics", gin.WrapH(metrics))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/events", handlers.HandleEvent(deps.Processor))
		v1.GET("/sim/inject/altitude-breach", handlers.HandleInjectBreach(deps.Processor, root))
		v1.GET("/traces/:traceId", handlers.GetTrace(deps.Traces))
		v1.GET("/decisions", handlers.ListDecisions(deps.Decisions))

		reviews := v1.Group("/reviews")
		if deps.ReviewAuth != nil {
			reviews.Use(middleware.AuthMiddleware(deps.ReviewAuth))
		}
		{
			reviews.GET("", handlers.ListReviews(deps.Reviews))
			reviews.POST("/:traceId/resolve", handlers.ResolveReview(deps.Reviews))
		}
	}
}
