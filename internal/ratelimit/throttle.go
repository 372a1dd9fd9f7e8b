// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize is the maximum burst size for the rate limiter (256KB).
const maxBurstSize = 256 * 1024

// ThrottledWriter is an io.Writer with token-bucket rate limiting.
// Caps the write rate at bytesPerSec bytes/second.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledWriter builds a ThrottledWriter capped at bytesPerSec.
// If bytesPerSec <= 0, it returns the original writer unmodified (bypass).
func NewThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implements io.Writer with rate limiting. Writes larger than the
// burst size are split into chunks to consume tokens gradually.
func (tw *ThrottledWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := tw.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}

// ThrottledReader is an io.Reader with token-bucket rate limiting, used by
// the streamclient harness to cap the rate at which it reads the source file
// for upload.
type ThrottledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledReader builds a ThrottledReader capped at bytesPerSec.
// If bytesPerSec <= 0, it returns the original reader unmodified (bypass).
func NewThrottledReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &ThrottledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Read implements io.Reader with rate limiting.
func (tr *ThrottledReader) Read(p []byte) (int, error) {
	chunk := len(p)
	if chunk > tr.limiter.Burst() {
		chunk = tr.limiter.Burst()
	}

	if err := tr.limiter.WaitN(tr.ctx, chunk); err != nil {
		return 0, err
	}

	return tr.r.Read(p[:chunk])
}
