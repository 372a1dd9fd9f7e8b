// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxStreamIDLength is the maximum length allowed for a stream_id.
const maxStreamIDLength = 128

// validateStreamID checks that a client-supplied stream_id is safe to use as
// a filesystem path component when deriving cache_path. Prevents path
// traversal and other unsafe names.
func validateStreamID(id string) error {
	if id == "" {
		return fmt.Errorf("stream_id cannot be empty")
	}

	if len(id) > maxStreamIDLength {
		return fmt.Errorf("stream_id exceeds max length %d", maxStreamIDLength)
	}

	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("stream_id contains path separator")
	}

	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("stream_id contains null byte")
	}

	if id == "." || id == ".." || strings.HasPrefix(id, "..") {
		return fmt.Errorf("stream_id contains path traversal")
	}

	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("stream_id starts with dot")
	}

	return nil
}

// validatePathInBaseDir verifies that the resolved path stays within baseDir.
// Defense in depth against path traversal beyond validateStreamID.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}

	if strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}

	return nil
}
