// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// writeTimeout bounds each WebSocket write so a stalled client cannot
// pin an analysis goroutine.
const writeTimeout = 10 * time.Second

// HandleStream handles GET /v1/verify/stream.
//
// Description:
//
//	Upgrades the connection to a WebSocket. Each client message is an
//	AnalyzeRequest; the server replies with a sequence of StreamEvent
//	messages ("accepted", "decomposed", "running", then "verdict" or
//	"error") sharing one request_id. Requests on one connection are
//	processed sequentially.
//
// Response:
//
//	101 Switching Protocols on success.
func (h *Handlers) HandleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	logger := h.logger.With("handler", "HandleStream", "client", c.ClientIP())
	logger.Info("stream client connected")

	// WriteJSON is not safe for concurrent use; the emit callback and
	// the error paths below share this lock.
	var writeMu sync.Mutex
	send := func(ev StreamEvent) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteJSON(ev)
	}

	for {
		var req AnalyzeRequest
		if err := ws.ReadJSON(&req); err != nil {
			logger.Info("stream client disconnected", "reason", err.Error())
			return
		}

		requestID := uuid.NewString()
		if err := send(StreamEvent{Event: "accepted", RequestID: requestID}); err != nil {
			return
		}

		_, err := h.svc.AnalyzeStream(c.Request.Context(), &req, func(ev StreamEvent) {
			ev.RequestID = requestID
			if err := send(ev); err != nil {
				logger.Warn("stream write failed", "request_id", requestID, "error", err)
			}
		})
		if err != nil {
			if sendErr := send(StreamEvent{
				Event:     "error",
				RequestID: requestID,
				Error:     err.Error(),
			}); sendErr != nil {
				return
			}
		}
	}
}
