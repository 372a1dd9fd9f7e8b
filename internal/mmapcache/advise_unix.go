// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build unix

package mmapcache

import "golang.org/x/sys/unix"

const (
	adviseWillNeed = unix.MADV_WILLNEED
	adviseDontNeed = unix.MADV_DONTNEED
)

// madvise issues an advisory hint over seg[within:within+n]. Best-effort:
// errors are ignored since prefetch/evict carry no semantic contract beyond
// "no observable behavior change".
func madvise(seg []byte, within, n int64, advice int) {
	if n <= 0 {
		return
	}
	_ = unix.Madvise(seg[within:within+n], advice)
}
