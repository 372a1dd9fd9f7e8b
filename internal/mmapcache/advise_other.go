// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !unix

package mmapcache

const (
	adviseWillNeed = 0
	adviseDontNeed = 0
)

// madvise is a no-op on platforms without madvise(2) (e.g. Windows),
// matching the spec's "no semantic contract beyond no-observable-change".
func madvise(seg []byte, within, n int64, advice int) {}
