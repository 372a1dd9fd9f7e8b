// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"encoding/json"
	"net/http"

	"github.com/feuyeux/hello-audio-stream-go/internal/bufpool"
	"github.com/feuyeux/hello-audio-stream-go/internal/sysstats"
)

// HandlerMetrics is implemented by the WebSocket server to expose a
// read-only snapshot of its observable state to the stats endpoint.
type HandlerMetrics interface {
	ActiveConnections() int32
	ActiveStreams() int
	TotalStreams() int
	BytesIngested() int64
	BytesServed() int64
	PoolSnapshot() bufpool.Stats
	SystemSnapshot() sysstats.Snapshot
}

// StatsResponse is the JSON body served at the stats endpoint.
type StatsResponse struct {
	ActiveConnections int32            `json:"active_connections"`
	ActiveStreams     int              `json:"active_streams"`
	TotalStreams      int              `json:"total_streams"`
	BytesIngested     int64            `json:"bytes_ingested"`
	BytesServed       int64            `json:"bytes_served"`
	Pool              bufpool.Stats    `json:"pool"`
	System            sysstats.Snapshot `json:"system"`
}

// NewStatsHandler returns an http.Handler serving a JSON snapshot of m.
func NewStatsHandler(m HandlerMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := StatsResponse{
			ActiveConnections: m.ActiveConnections(),
			ActiveStreams:     m.ActiveStreams(),
			TotalStreams:      m.TotalStreams(),
			BytesIngested:     m.BytesIngested(),
			BytesServed:       m.BytesServed(),
			Pool:              m.PoolSnapshot(),
			System:            m.SystemSnapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
