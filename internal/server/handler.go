// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implements the stream WebSocket server: the per-connection
// Message Handler state machine and the WebSocket accept loop.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feuyeux/hello-audio-stream-go/internal/bufpool"
	"github.com/feuyeux/hello-audio-stream-go/internal/ratelimit"
	"github.com/feuyeux/hello-audio-stream-go/internal/streammanager"
	"github.com/feuyeux/hello-audio-stream-go/internal/wirecompress"
	"github.com/feuyeux/hello-audio-stream-go/internal/wsprotocol"
)

// writeWait bounds how long a single WebSocket frame write may take.
const writeWait = 10 * time.Second

// HandlerConfig parameterizes a Handler.
type HandlerConfig struct {
	Manager *streammanager.Manager
	Pool    *bufpool.Pool
	Metrics *Metrics
	Logger  *slog.Logger

	// GetBytesPerSec caps the rate at which GET responses are streamed back
	// to this connection. <= 0 disables throttling.
	GetBytesPerSec int64
}

// Handler owns one connection's IDLE/BOUND(id) state machine (§4.6).
type Handler struct {
	cfg  HandlerConfig
	conn *websocket.Conn

	writeMu sync.Mutex

	bound string // bound upload stream id, "" when IDLE
}

// NewHandler constructs a fresh Handler for one accepted connection.
func NewHandler(cfg HandlerConfig, conn *websocket.Conn) *Handler {
	return &Handler{cfg: cfg, conn: conn}
}

// binaryFrameWriter adapts Handler.sendBinary to an io.Writer so GET
// responses can be paced through a ratelimit.ThrottledWriter.
type binaryFrameWriter struct{ h *Handler }

func (w binaryFrameWriter) Write(p []byte) (int, error) {
	w.h.sendBinary(p)
	return len(p), nil
}

// Run drives the connection's read loop until it closes or errs. Any stream
// the connection is bound to at exit is finalized, matching the spec's
// "connection close while bound is treated as if STOP was received" rule.
func (h *Handler) Run() {
	h.cfg.Metrics.connectionOpened()
	defer h.cfg.Metrics.connectionClosed()
	defer h.finalizeBoundOnClose()

	for {
		msgType, data, err := h.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.TextMessage:
			h.handleText(data)
		case websocket.BinaryMessage:
			if wsprotocol.LooksLikeControlFrame(data) {
				h.handleText(data)
				continue
			}
			h.handleBinary(data)
		default:
			// Ping/pong/close are handled internally by gorilla/websocket.
		}
	}
}

func (h *Handler) finalizeBoundOnClose() {
	if h.bound == "" {
		return
	}
	if err := h.cfg.Manager.FinalizeStream(h.bound); err != nil {
		h.cfg.Logger.Debug("finalize on close failed", "stream_id", h.bound, "error", err)
	}
	h.bound = ""
}

func (h *Handler) send(msg wsprotocol.Message) {
	payload, err := wsprotocol.Encode(msg)
	if err != nil {
		h.cfg.Logger.Error("encoding response failed", "error", err)
		return
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := h.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.cfg.Logger.Debug("writing text frame failed", "error", err)
	}
}

func (h *Handler) sendBinary(data []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := h.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		h.cfg.Logger.Debug("writing binary frame failed", "error", err)
	}
}

func (h *Handler) sendError(message string) {
	h.send(wsprotocol.NewError(message))
}

func (h *Handler) handleText(data []byte) {
	msg, err := wsprotocol.Decode(data)
	if err != nil {
		h.sendError(err.Error())
		return
	}

	switch msg.Type {
	case wsprotocol.TypeStart:
		h.onStart(msg)
	case wsprotocol.TypeStop:
		h.onStop(msg)
	case wsprotocol.TypeGet:
		h.onGet(msg)
	default:
		h.sendError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *Handler) onStart(msg wsprotocol.Message) {
	if h.bound != "" {
		h.sendError("already bound")
		return
	}
	if err := validateStreamID(msg.StreamID); err != nil {
		h.sendError(err.Error())
		return
	}
	if err := h.cfg.Manager.CreateStream(msg.StreamID, msg.Compression); err != nil {
		h.sendError(err.Error())
		return
	}
	h.bound = msg.StreamID
	started := wsprotocol.NewStarted(msg.StreamID, "Stream started successfully")
	started.Compression = msg.Compression
	h.send(started)
}

func (h *Handler) onStop(msg wsprotocol.Message) {
	if h.bound == "" {
		h.sendError("no active stream")
		return
	}
	id := h.bound
	if err := h.cfg.Manager.FinalizeStream(id); err != nil {
		h.sendError(err.Error())
		return
	}
	h.bound = ""
	h.send(wsprotocol.NewStopped(id, "Stream finalized successfully"))
}

func (h *Handler) onGet(msg wsprotocol.Message) {
	var offset, length uint64
	if msg.Offset != nil {
		offset = *msg.Offset
	}
	if msg.Length != nil {
		length = *msg.Length
	}
	if offset > math.MaxInt64 || length > math.MaxInt64 {
		h.sendError(fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
		return
	}

	info, err := h.cfg.Manager.GetInfo(msg.StreamID)
	if err != nil {
		h.sendError(fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
		return
	}
	if int64(offset) >= info.CurrentOffset {
		h.sendError(fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
		return
	}

	var (
		data      []byte
		pooledBuf []byte
	)
	if h.cfg.Pool != nil && int(length) <= h.cfg.Pool.BufferSize() {
		pooledBuf = h.cfg.Pool.Acquire()
		defer h.cfg.Pool.Release(pooledBuf)
		data, err = h.cfg.Manager.ReadChunkInto(msg.StreamID, int64(offset), pooledBuf[:length])
	} else {
		data, err = h.cfg.Manager.ReadChunk(msg.StreamID, int64(offset), int64(length))
	}
	if err != nil {
		h.sendError(fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
		return
	}

	mode := wirecompress.Mode(info.Compression)
	if mode != wirecompress.ModeNone {
		compressed, err := wirecompress.Compress(mode, data)
		if err != nil {
			h.sendError(fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
			return
		}
		data = compressed
	}

	h.cfg.Metrics.addBytesOut(len(data))

	w := ratelimit.NewThrottledWriter(context.Background(), binaryFrameWriter{h}, h.cfg.GetBytesPerSec)
	if _, err := w.Write(data); err != nil {
		h.cfg.Logger.Debug("throttled write failed", "stream_id", msg.StreamID, "error", err)
	}
}

func (h *Handler) handleBinary(data []byte) {
	if h.bound == "" {
		h.sendError("no active stream")
		return
	}

	info, err := h.cfg.Manager.GetInfo(h.bound)
	if err == nil && wirecompress.Mode(info.Compression) != wirecompress.ModeNone {
		decompressed, derr := wirecompress.Decompress(wirecompress.Mode(info.Compression), data)
		if derr != nil {
			h.sendError(fmt.Sprintf("decompressing chunk for stream %s: %v", h.bound, derr))
			return
		}
		data = decompressed
	}

	if err := h.cfg.Manager.WriteChunk(h.bound, data); err != nil {
		h.sendError(err.Error())
		return
	}
	h.cfg.Metrics.addBytesIn(len(data))
}
