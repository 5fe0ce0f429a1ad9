// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"math"
	"sort"
)

// Kind distinguishes a main workspace from a derived worktree workspace.
type Kind string

const (
	KindMain     Kind = "main"
	KindWorktree Kind = "worktree"
)

// IsWorktree reports whether the kind is a worktree.
func (k Kind) IsWorktree() bool { return k == KindWorktree }

// WorktreeMeta carries the git metadata of a worktree workspace.
type WorktreeMeta struct {
	Branch string `json:"branch"`
}

// Settings holds per-workspace UI settings.
type Settings struct {
	SidebarCollapsed bool    `json:"sidebar_collapsed"`
	SortOrder        *uint32 `json:"sort_order,omitempty"`
}

// Entry is a persisted workspace record.
type Entry struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	CodexBin string        `json:"codex_bin,omitempty"`
	Kind     Kind          `json:"kind"`
	ParentID string        `json:"parent_id,omitempty"`
	Worktree *WorktreeMeta `json:"worktree,omitempty"`
	Settings Settings      `json:"settings"`
}

// Info is the wire representation of a workspace: the persisted entry
// plus whether a live session currently exists for it.
type Info struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Connected bool          `json:"connected"`
	CodexBin  string        `json:"codex_bin,omitempty"`
	Kind      Kind          `json:"kind"`
	ParentID  string        `json:"parent_id,omitempty"`
	Worktree  *WorktreeMeta `json:"worktree,omitempty"`
	Settings  Settings      `json:"settings"`
}

// NewInfo builds an Info from an entry and its connected state.
func NewInfo(entry Entry, connected bool) Info {
	return Info{
		ID:        entry.ID,
		Name:      entry.Name,
		Path:      entry.Path,
		Connected: connected,
		CodexBin:  entry.CodexBin,
		Kind:      entry.Kind,
		ParentID:  entry.ParentID,
		Worktree:  entry.Worktree,
		Settings:  entry.Settings,
	}
}

// SortInfos orders workspaces by settings.sort_order ascending with
// absent orders last, tie-broken by name ascending.
func SortInfos(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		a := orderOf(infos[i])
		b := orderOf(infos[j])
		if a != b {
			return a < b
		}
		return infos[i].Name < infos[j].Name
	})
}

func orderOf(info Info) uint32 {
	if info.Settings.SortOrder == nil {
		return math.MaxUint32
	}
	return *info.Settings.SortOrder
}

// AppSettings holds daemon-wide settings persisted in settings.json.
// The experimental flags are mirrored into the external codex
// config.toml; reads merge that file on top of this copy.
type AppSettings struct {
	CodexBin                              string `json:"codex_bin,omitempty"`
	ExperimentalCollabEnabled             bool   `json:"experimental_collab_enabled"`
	ExperimentalCollaborationModesEnabled bool   `json:"experimental_collaboration_modes_enabled"`
	ExperimentalSteerEnabled              bool   `json:"experimental_steer_enabled"`
	ExperimentalUnifiedExecEnabled        bool   `json:"experimental_unified_exec_enabled"`
}
