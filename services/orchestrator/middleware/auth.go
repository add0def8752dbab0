// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Authentication
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it with a TokenValidator and stores the reviewer name in the Gin
// context for downstream handlers. It guards the human review endpoints;
// event ingestion stays open to the telemetry feed.
//
// # Usage
//
//	reviews := v1.Group("/reviews")
//	reviews.Use(middleware.AuthMiddleware(middleware.StaticToken{Name: "operator", Token: secret}))
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AltitudeWarning/services/orchestrator/config"
)

// ErrUnauthorized is returned by a TokenValidator for a missing or wrong
// token.
var ErrUnauthorized = errors.New("unauthorized")

// =============================================================================
// Validators
// =============================================================================

// TokenValidator resolves a bearer token to a reviewer name.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// StaticToken accepts a single shared token and names every holder Name.
type StaticToken struct {
	Name  string
	Token config.Secret
}

// Validate implements TokenValidator. The comparison is constant time.
func (s StaticToken) Validate(_ context.Context, token string) (string, error) {
	want, err := s.Token.Reveal()
	if err != nil || token == "" {
		return "", ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		return "", ErrUnauthorized
	}
	return s.Name, nil
}

// =============================================================================
// Context Helpers
// =============================================================================

// reviewerKey is the Gin context key for the authenticated reviewer.
const reviewerKey = "altitude_reviewer"

// SetReviewer stores the authenticated reviewer in the Gin context.
func SetReviewer(c *gin.Context, name string) {
	c.Set(reviewerKey, name)
}

// Reviewer returns the authenticated reviewer, or "" when the request was
// not authenticated.
func Reviewer(c *gin.Context) string {
	v, ok := c.Get(reviewerKey)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// with v, and stores the reviewer name for downstream handlers. Requests
// without a valid token are aborted with 401.
//
//	Authorization: Bearer <token>
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, err := v.Validate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			msg := "authentication failed"
			if errors.Is(err, ErrUnauthorized) {
				msg = "unauthorized"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		SetReviewer(c, name)
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or malformed. The scheme is
// case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
