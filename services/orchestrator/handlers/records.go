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
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/datatypes"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/middleware"
	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/storage"
)

// TraceReader looks up stored traces.
type TraceReader interface {
	Get(ctx context.Context, traceID string) (storage.StoredTrace, error)
}

// DecisionReader lists audited decisions.
type DecisionReader interface {
	List(ctx context.Context, q storage.DecisionQuery) ([]storage.DecisionRow, error)
}

// ReviewDesk lists and resolves queued human reviews.
type ReviewDesk interface {
	ListReviews(ctx context.Context, outcome string, limit int) ([]storage.Review, error)
	ResolveReview(ctx context.Context, traceID, outcome, note string) error
}

// GetTrace returns one stored trace.
//
// GET /v1/traces/:traceId
func GetTrace(traces TraceReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if traces == nil {
			errorResponse(c, http.StatusServiceUnavailable, "trace store disabled")
			return
		}
		t, err := traces.Get(c.Request.Context(), c.Param("traceId"))
		switch {
		case errors.Is(err, storage.ErrTraceNotFound):
			errorResponse(c, http.StatusNotFound, "trace not found")
		case err != nil:
			errorResponse(c, http.StatusInternalServerError, err.Error())
		default:
			c.JSON(http.StatusOK, t)
		}
	}
}

// ListDecisions returns audit rows, newest first.
//
// GET /v1/decisions?drone_id=&status=&since=RFC3339&limit=
func ListDecisions(log DecisionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if log == nil {
			errorResponse(c, http.StatusServiceUnavailable, "decision log disabled")
			return
		}
		limit, err := intQuery(c, "limit")
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "limit "+err.Error())
			return
		}
		q := storage.DecisionQuery{
			DroneID: c.Query("drone_id"),
			Status:  datatypes.AlertStatus(c.Query("status")),
			Limit:   limit,
		}
		if raw := c.Query("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				errorResponse(c, http.StatusBadRequest, "since must be RFC 3339")
				return
			}
			q.Since = since
		}
		rows, err := log.List(c.Request.Context(), q)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": rows, "count": len(rows)})
	}
}

// ListReviews returns queued reviews, oldest first. outcome defaults to
// pending.
//
// GET /v1/reviews?outcome=&limit=
func ListReviews(desk ReviewDesk) gin.HandlerFunc {
	return func(c *gin.Context) {
		if desk == nil {
			errorResponse(c, http.StatusServiceUnavailable, "review queue disabled")
			return
		}
		limit, err := intQuery(c, "limit")
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "limit "+err.Error())
			return
		}
		reviews, err := desk.ListReviews(c.Request.Context(), c.Query("outcome"), limit)
		if errors.Is(err, storage.ErrInvalidOutcome) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"reviews": reviews, "count": len(reviews)})
	}
}

// ResolveRequest is the body of a review resolution.
type ResolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Note    string `json:"note"`
}

// ResolveReview records a reviewer's outcome.
//
// POST /v1/reviews/:traceId/resolve
func ResolveReview(desk ReviewDesk) gin.HandlerFunc {
	return func(c *gin.Context) {
		if desk == nil {
			errorResponse(c, http.StatusServiceUnavailable, "review queue disabled")
			return
		}
		var req ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		traceID := c.Param("traceId")
		err := desk.ResolveReview(c.Request.Context(), traceID, req.Outcome, req.Note)
		switch {
		case errors.Is(err, storage.ErrReviewNotFound):
			errorResponse(c, http.StatusNotFound, "review not found or already resolved")
		case errors.Is(err, storage.ErrInvalidOutcome):
			errorResponse(c, http.StatusBadRequest, err.Error())
		case err != nil:
			errorResponse(c, http.StatusInternalServerError, err.Error())
		default:
			resp := gin.H{"trace_id": traceID, "outcome": req.Outcome}
			if reviewer := middleware.Reviewer(c); reviewer != "" {
				resp["reviewer"] = reviewer
			}
			c.JSON(http.StatusOK, resp)
		}
	}
}
