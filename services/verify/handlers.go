// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/faultlinehq/faultline/pkg/logging"
)

// Handlers contains the HTTP handlers for the verify service.
type Handlers struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service, logger *logging.Logger) *Handlers {
	return &Handlers{svc: svc, logger: logger}
}

// HandleAnalyze handles POST /v1/verify/analyze.
//
// Description:
//
//	Runs a reachability analysis on the submitted program and returns
//	the verdict, consulting the verdict cache unless no_cache is set.
//
// Request Body:
//
//	AnalyzeRequest
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Validation or parse error
//	500 Internal Server Error: Analysis failure
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Analyze(c.Request.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "ANALYSIS_FAILED"
		if errors.Is(err, ErrNilProgram) || errors.Is(err, ErrInvalidProgram) {
			status = http.StatusBadRequest
			code = "INVALID_PROGRAM"
		}
		logger.Error("analysis failed", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleVerdict handles GET /v1/verify/verdicts/:hash.
//
// Response:
//
//	200 OK: VerdictResponse
//	404 Not Found: No cached verdict for the hash
//	503 Service Unavailable: Cache disabled
func (h *Handlers) HandleVerdict(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleVerdict")

	hash := c.Param("hash")
	cached, err := h.svc.Verdict(c.Request.Context(), hash)
	if err != nil {
		switch {
		case errors.Is(err, ErrVerdictNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "no cached verdict for hash",
				Code:  "VERDICT_NOT_FOUND",
			})
		case errors.Is(err, ErrCacheDisabled):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "verdict cache is disabled",
				Code:  "CACHE_DISABLED",
			})
		default:
			logger.Error("verdict lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: err.Error(),
				Code:  "LOOKUP_FAILED",
			})
		}
		return
	}

	c.JSON(http.StatusOK, VerdictResponse{
		Hash:       hash,
		Verdict:    cached.Verdict,
		Sound:      cached.Sound,
		FaultEdges: cached.FaultEdges,
		Tasks:      cached.Tasks,
		ElapsedMS:  cached.ElapsedMS,
		CreatedAt:  cached.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// HandleInvalidate handles DELETE /v1/verify/verdicts/:hash.
//
// Response:
//
//	204 No Content: Verdict removed (or was absent)
//	503 Service Unavailable: Cache disabled
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleInvalidate")

	err := h.svc.Invalidate(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "verdict cache is disabled",
				Code:  "CACHE_DISABLED",
			})
			return
		}
		logger.Error("invalidate failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALIDATE_FAILED",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /v1/verify/health.
//
// Always returns 200 if the process is serving.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/verify/ready.
//
// The service is ready as soon as it is serving; CacheOK reports
// whether the verdict cache opened.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, ReadyResponse{
		Ready:   true,
		CacheOK: h.svc.CacheReady(),
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
