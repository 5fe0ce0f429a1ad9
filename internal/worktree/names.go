// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SanitizeWorktreeName converts a branch name into a directory-safe
// name. Characters outside [A-Za-z0-9._-] become '-', leading and
// trailing '-' are stripped, and an empty result becomes "worktree".
func SanitizeWorktreeName(branch string) string {
	var b strings.Builder
	for _, ch := range branch {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '-' || ch == '_' || ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteByte('-')
		}
	}
	trimmed := strings.Trim(b.String(), "-")
	if trimmed == "" {
		return "worktree"
	}
	return trimmed
}

// UniqueWorktreePath returns a path under baseDir that does not exist
// yet: baseDir/name, then baseDir/name-2 through baseDir/name-999.
func UniqueWorktreePath(baseDir, name string) (string, error) {
	candidate := filepath.Join(baseDir, name)
	if !pathExists(candidate) {
		return candidate, nil
	}
	for index := 2; index < 1000; index++ {
		next := filepath.Join(baseDir, fmt.Sprintf("%s-%d", name, index))
		if !pathExists(next) {
			return next, nil
		}
	}
	return "", fmt.Errorf("Failed to find an available worktree path under %s.", baseDir)
}

// UniqueWorktreePathForRename is UniqueWorktreePath except the
// worktree's current path counts as available, so renaming a branch
// back and forth reuses the same directory.
func UniqueWorktreePathForRename(baseDir, name, currentPath string) (string, error) {
	candidate := filepath.Join(baseDir, name)
	if candidate == currentPath || !pathExists(candidate) {
		return candidate, nil
	}
	for index := 2; index < 1000; index++ {
		next := filepath.Join(baseDir, fmt.Sprintf("%s-%d", name, index))
		if next == currentPath || !pathExists(next) {
			return next, nil
		}
	}
	return "", fmt.Errorf("Failed to find an available worktree path under %s.", baseDir)
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
