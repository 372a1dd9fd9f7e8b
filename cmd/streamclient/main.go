// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command streamclient is a conformance harness: it uploads a source file
// to a streamserver over WebSocket, reads it back with a sequence of GETs,
// and verifies the reconstructed bytes against a SHA-256 digest computed
// while uploading.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feuyeux/hello-audio-stream-go/internal/config"
	"github.com/feuyeux/hello-audio-stream-go/internal/ratelimit"
	"github.com/feuyeux/hello-audio-stream-go/internal/wsprotocol"
)

const getChunkSize = 1 << 20 // 1 MiB per GET

func main() {
	configPath := flag.String("config", "/etc/streamclient/client.yaml", "path to client config file")
	streamID := flag.String("stream-id", "", "override the stream id to upload/read as (default: streamclient-<unix nanoseconds>)")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	id := *streamID
	if id == "" {
		id = fmt.Sprintf("streamclient-%d", time.Now().UnixNano())
	}

	if err := run(cfg, id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, streamID string) error {
	f, err := os.Open(cfg.Source)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	u := url.URL{Scheme: "ws", Host: cfg.Server.Address, Path: cfg.Server.Path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", u.String(), err)
	}
	defer conn.Close()

	start := time.Now()

	digest, uploaded, err := upload(conn, cfg, streamID, f)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	downloaded, err := download(conn, streamID, uploaded, digest)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("stream_id=%s bytes=%d verified=%d elapsed=%s throughput=%.2f MB/s\n",
		streamID, uploaded, downloaded, elapsed, float64(uploaded)/1024/1024/elapsed.Seconds())
	return nil
}

func upload(conn *websocket.Conn, cfg *config.ClientConfig, streamID string, f *os.File) ([]byte, int64, error) {
	if err := sendJSON(conn, wsprotocol.Message{Type: wsprotocol.TypeStart, StreamID: streamID}); err != nil {
		return nil, 0, err
	}
	if err := expectType(conn, wsprotocol.TypeStarted); err != nil {
		return nil, 0, fmt.Errorf("START: %w", err)
	}

	hasher := sha256.New()
	var reader io.Reader = io.TeeReader(f, hasher)
	if cfg.Throttle.Raw > 0 {
		reader = ratelimit.NewThrottledReader(context.Background(), reader, cfg.Throttle.Raw)
	}

	var total int64
	buf := make([]byte, 64*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return nil, 0, fmt.Errorf("writing chunk: %w", werr)
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("reading source file: %w", err)
		}
	}

	if err := sendJSON(conn, wsprotocol.Message{Type: wsprotocol.TypeStop, StreamID: streamID}); err != nil {
		return nil, 0, err
	}
	if err := expectType(conn, wsprotocol.TypeStopped); err != nil {
		return nil, 0, fmt.Errorf("STOP: %w", err)
	}

	return hasher.Sum(nil), total, nil
}

func download(conn *websocket.Conn, streamID string, total int64, wantDigest []byte) (int64, error) {
	hasher := sha256.New()
	var offset int64
	for offset < total {
		length := int64(getChunkSize)
		if offset+length > total {
			length = total - offset
		}

		o, l := uint64(offset), uint64(length)
		if err := sendJSON(conn, wsprotocol.Message{
			Type: wsprotocol.TypeGet, StreamID: streamID, Offset: &o, Length: &l,
		}); err != nil {
			return 0, err
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("reading GET response: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			msg, derr := wsprotocol.Decode(data)
			if derr == nil && msg.Type == wsprotocol.TypeError {
				return 0, fmt.Errorf("server error: %s", msg.Message)
			}
			return 0, fmt.Errorf("expected BINARY frame, got type %d", msgType)
		}

		hasher.Write(data)
		offset += int64(len(data))
	}

	got := hasher.Sum(nil)
	if string(got) != string(wantDigest) {
		return offset, fmt.Errorf("checksum mismatch: uploaded %x, downloaded %x", wantDigest, got)
	}
	return offset, nil
}

func sendJSON(conn *websocket.Conn, msg wsprotocol.Message) error {
	payload, err := wsprotocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func expectType(conn *websocket.Conn, want wsprotocol.Type) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	msg, err := wsprotocol.Decode(data)
	if err != nil {
		return err
	}
	if msg.Type == wsprotocol.TypeError {
		return fmt.Errorf("server error: %s", msg.Message)
	}
	if msg.Type != want {
		return fmt.Errorf("expected %s, got %s", want, msg.Type)
	}
	return nil
}
