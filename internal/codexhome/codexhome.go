// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package codexhome resolves the per-workspace CODEX_HOME directory.
package codexhome

import (
	"os"
	"path/filepath"

	"github.com/codex-monitor/daemon/internal/workspace"
)

// Resolve returns the workspace's CODEX_HOME: the .codex directory
// under the workspace path, or under the parent repository for a
// worktree so all worktrees share the parent's agent state. Returns ""
// when no such directory exists.
func Resolve(entry workspace.Entry, parentPath string) string {
	base := entry.Path
	if entry.Kind.IsWorktree() && parentPath != "" {
		base = parentPath
	}
	candidate := filepath.Join(base, ".codex")
	info, err := os.Stat(candidate)
	if err != nil || !info.IsDir() {
		return ""
	}
	return candidate
}
