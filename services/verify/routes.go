// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"github.com/gin-gonic/gin"

	"github.com/faultlinehq/faultline/services/verify/telemetry"
)

// RegisterRoutes registers all verify routes with the router group.
//
// Description:
//
//	Registers the /verify/* endpoints with the given Gin router group.
//	The group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/verify/analyze - Run an analysis
//	GET    /v1/verify/stream - WebSocket analysis with progress events
//	GET    /v1/verify/verdicts/:hash - Fetch a cached verdict
//	DELETE /v1/verify/verdicts/:hash - Invalidate a cached verdict
//	GET    /v1/verify/health - Health check
//	GET    /v1/verify/ready - Readiness check
//
// Example:
//
//	svc := verify.NewService(cfg, logger)
//	handlers := verify.NewHandlers(svc, logger)
//
//	v1 := router.Group("/v1")
//	verify.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	vg := rg.Group("/verify")
	{
		vg.POST("/analyze", handlers.HandleAnalyze)
		vg.GET("/stream", handlers.HandleStream)

		vg.GET("/verdicts/:hash", handlers.HandleVerdict)
		vg.DELETE("/verdicts/:hash", handlers.HandleInvalidate)

		vg.GET("/health", handlers.HandleHealth)
		vg.GET("/ready", handlers.HandleReady)
	}
}

// NewRouter builds the full service router with middleware and
// operational endpoints.
//
// Description:
//
//	Creates a Gin engine with recovery, rate limiting, and the
//	/v1/verify routes. /metrics serves Prometheus metrics when the
//	telemetry stack exposes a handler.
//
// Inputs:
//
//	handlers - The handlers instance
//	limiter - Per-client rate limiter; nil disables throttling
//
// Outputs:
//
//	*gin.Engine - The configured router.
func NewRouter(handlers *Handlers, limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if limiter != nil {
		router.Use(limiter.Middleware())
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	return router
}
