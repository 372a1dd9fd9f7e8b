// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateStreamID_Valid(t *testing.T) {
	valid := []string{
		"stream-20240101-000000-abcd",
		"stream_01",
		"s1",
		"StreamName",
		"a",
	}
	for _, id := range valid {
		if err := validateStreamID(id); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", id, err)
		}
	}
}

func TestValidateStreamID_RejectsPathTraversal(t *testing.T) {
	invalid := []string{
		"..",
		"../../../etc/passwd",
		"..secret",
	}
	for _, id := range invalid {
		if err := validateStreamID(id); err == nil {
			t.Errorf("expected %q to be rejected (path traversal)", id)
		}
	}
}

func TestValidateStreamID_RejectsPathSeparators(t *testing.T) {
	invalid := []string{
		"foo/bar",
		"foo\\bar",
		"/absolute",
		"nested/path/name",
	}
	for _, id := range invalid {
		if err := validateStreamID(id); err == nil {
			t.Errorf("expected %q to be rejected (path separator)", id)
		}
	}
}

func TestValidateStreamID_RejectsEmpty(t *testing.T) {
	if err := validateStreamID(""); err == nil {
		t.Error("expected empty string to be rejected")
	}
}

func TestValidateStreamID_RejectsNullByte(t *testing.T) {
	if err := validateStreamID("foo\x00bar"); err == nil {
		t.Error("expected string with null byte to be rejected")
	}
}

func TestValidateStreamID_RejectsDotPrefix(t *testing.T) {
	invalid := []string{
		".hidden",
		".config",
		".",
	}
	for _, id := range invalid {
		if err := validateStreamID(id); err == nil {
			t.Errorf("expected %q to be rejected (dot prefix)", id)
		}
	}
}

func TestValidateStreamID_RejectsLongName(t *testing.T) {
	long := strings.Repeat("x", maxStreamIDLength+1)
	if err := validateStreamID(long); err == nil {
		t.Error("expected long name to be rejected")
	}
}

func TestValidatePathInBaseDir_Inside(t *testing.T) {
	base := "/data/cache"
	inside := filepath.Join(base, "stream-1.cache")
	if err := validatePathInBaseDir(base, inside); err != nil {
		t.Errorf("expected path inside base dir, got error: %v", err)
	}
}

func TestValidatePathInBaseDir_Outside(t *testing.T) {
	base := "/data/cache"
	outside := "/etc/passwd"
	if err := validatePathInBaseDir(base, outside); err == nil {
		t.Error("expected path outside base dir to be rejected")
	}
}

func TestValidatePathInBaseDir_TraversalAttempt(t *testing.T) {
	base := "/data/cache"
	traversal := filepath.Join(base, "..", "..", "etc", "passwd")
	if err := validatePathInBaseDir(base, traversal); err == nil {
		t.Error("expected traversal attempt to be rejected")
	}
}
