// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package daemon holds the daemon's state and RPC surface: the
// workspace catalog, live child sessions, app settings, and the TCP
// server that exposes them.
package daemon

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/codex-monitor/daemon/internal/codexconfig"
	"github.com/codex-monitor/daemon/internal/codexhome"
	"github.com/codex-monitor/daemon/internal/events"
	"github.com/codex-monitor/daemon/internal/session"
	"github.com/codex-monitor/daemon/internal/workspace"
	"github.com/codex-monitor/daemon/internal/worktree"
)

var (
	errWorkspaceNotFound      = errors.New("workspace not found")
	errWorkspaceNotConnected  = errors.New("workspace not connected")
	errParentNotFound         = errors.New("parent workspace not found")
	errWorktreeParentNotFound = errors.New("worktree parent not found")
	errNotAWorktree           = errors.New("Not a worktree workspace.")
	errBranchRequired         = errors.New("Branch name is required.")
	errBranchUnchanged        = errors.New("Branch name is unchanged.")
)

// SpawnFunc starts a child session for a workspace. Tests substitute
// a stub; production uses session.Spawn.
type SpawnFunc func(entry workspace.Entry, defaultBin, clientVersion string, sink events.Sink, codexHome string) (*session.Session, error)

// State is the daemon's mutable state. Lock order when more than one
// is needed: catalogMu, then sessionsMu, then settingsMu.
type State struct {
	dataDir      string
	storagePath  string
	settingsPath string

	sink  events.Sink
	git   worktree.Git
	spawn SpawnFunc

	catalogMu  sync.Mutex
	workspaces map[string]workspace.Entry

	sessionsMu sync.Mutex
	sessions   map[string]*session.Session

	settingsMu  sync.Mutex
	appSettings workspace.AppSettings
}

// LoadState builds daemon state from the data directory. Unreadable
// catalog or settings files are logged and treated as empty rather
// than refusing to start.
func LoadState(dataDir string, sink events.Sink) *State {
	storagePath := filepath.Join(dataDir, "workspaces.json")
	settingsPath := filepath.Join(dataDir, "settings.json")

	entries, err := workspace.ReadEntries(storagePath)
	if err != nil {
		log.Printf("ignoring unreadable workspace catalog: %v", err)
		entries = map[string]workspace.Entry{}
	}
	settings, err := workspace.ReadSettings(settingsPath)
	if err != nil {
		log.Printf("ignoring unreadable settings: %v", err)
		settings = workspace.AppSettings{}
	}

	return &State{
		dataDir:      dataDir,
		storagePath:  storagePath,
		settingsPath: settingsPath,
		sink:         sink,
		git:          worktree.NewRealGit(),
		spawn:        session.Spawn,
		workspaces:   entries,
		sessions:     make(map[string]*session.Session),
		appSettings:  settings,
	}
}

// DataDir returns the daemon's data directory.
func (s *State) DataDir() string { return s.dataDir }

// killSession removes and kills a workspace's session if one exists.
func (s *State) killSession(id string) {
	s.sessionsMu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if sess != nil {
		sess.Kill()
	}
}

// KillAllSessions tears down every live session. Used at shutdown.
func (s *State) KillAllSessions() {
	s.sessionsMu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session.Session)
	s.sessionsMu.Unlock()
	for _, sess := range sessions {
		sess.Kill()
	}
}

func (s *State) getSession(id string) (*session.Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errWorkspaceNotConnected
	}
	return sess, nil
}

func (s *State) getEntry(id string) (workspace.Entry, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	entry, ok := s.workspaces[id]
	if !ok {
		return workspace.Entry{}, errWorkspaceNotFound
	}
	return entry, nil
}

func (s *State) defaultBin() string {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.appSettings.CodexBin
}

// snapshotLocked returns the catalog as a slice. Caller holds
// catalogMu.
func (s *State) snapshotLocked() []workspace.Entry {
	list := make([]workspace.Entry, 0, len(s.workspaces))
	for _, entry := range s.workspaces {
		list = append(list, entry)
	}
	return list
}

// ListWorkspaces returns every workspace with its live-session flag,
// sorted by the client-visible ordering.
func (s *State) ListWorkspaces() []workspace.Info {
	s.catalogMu.Lock()
	entries := s.snapshotLocked()
	s.catalogMu.Unlock()

	s.sessionsMu.Lock()
	infos := make([]workspace.Info, 0, len(entries))
	for _, entry := range entries {
		_, connected := s.sessions[entry.ID]
		infos = append(infos, workspace.NewInfo(entry, connected))
	}
	s.sessionsMu.Unlock()

	workspace.SortInfos(infos)
	return infos
}

// IsWorkspacePathDir reports whether a path names a directory.
func (s *State) IsWorkspacePathDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// AddWorkspace registers a directory as a main workspace and spawns
// its session. Nothing is persisted when the spawn fails.
func (s *State) AddWorkspace(path, codexBin, clientVersion string) (workspace.Info, error) {
	if !s.IsWorkspacePathDir(path) {
		return workspace.Info{}, errors.New("Workspace path must be a folder.")
	}

	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "Workspace"
	}

	entry := workspace.Entry{
		ID:       uuid.NewString(),
		Name:     name,
		Path:     path,
		CodexBin: codexBin,
		Kind:     workspace.KindMain,
	}

	home := codexhome.Resolve(entry, "")
	sess, err := s.spawn(entry, s.defaultBin(), clientVersion, s.sink, home)
	if err != nil {
		return workspace.Info{}, err
	}

	s.catalogMu.Lock()
	s.workspaces[entry.ID] = entry
	list := s.snapshotLocked()
	s.catalogMu.Unlock()
	if err := workspace.WriteEntries(s.storagePath, list); err != nil {
		sess.Kill()
		return workspace.Info{}, err
	}

	s.sessionsMu.Lock()
	s.sessions[entry.ID] = sess
	s.sessionsMu.Unlock()

	return workspace.NewInfo(entry, true), nil
}

// ConnectWorkspace spawns a session for a known workspace. Connecting
// an already-connected workspace is a no-op.
func (s *State) ConnectWorkspace(id, clientVersion string) error {
	s.sessionsMu.Lock()
	_, connected := s.sessions[id]
	s.sessionsMu.Unlock()
	if connected {
		return nil
	}

	entry, err := s.getEntry(id)
	if err != nil {
		return err
	}

	parentPath := ""
	if entry.Kind.IsWorktree() && entry.ParentID != "" {
		if parent, err := s.getEntry(entry.ParentID); err == nil {
			parentPath = parent.Path
		}
	}

	home := codexhome.Resolve(entry, parentPath)
	sess, err := s.spawn(entry, s.defaultBin(), clientVersion, s.sink, home)
	if err != nil {
		return err
	}

	s.sessionsMu.Lock()
	s.sessions[id] = sess
	s.sessionsMu.Unlock()
	return nil
}

// UpdateWorkspaceSettings replaces a workspace's settings and persists
// the catalog.
func (s *State) UpdateWorkspaceSettings(id string, settings workspace.Settings) (workspace.Info, error) {
	s.catalogMu.Lock()
	entry, ok := s.workspaces[id]
	if !ok {
		s.catalogMu.Unlock()
		return workspace.Info{}, errWorkspaceNotFound
	}
	entry.Settings = settings
	s.workspaces[id] = entry
	list := s.snapshotLocked()
	s.catalogMu.Unlock()

	if err := workspace.WriteEntries(s.storagePath, list); err != nil {
		return workspace.Info{}, err
	}
	return workspace.NewInfo(entry, s.isConnected(id)), nil
}

// UpdateWorkspaceCodexBin sets or clears a workspace's binary override.
func (s *State) UpdateWorkspaceCodexBin(id, codexBin string) (workspace.Info, error) {
	s.catalogMu.Lock()
	entry, ok := s.workspaces[id]
	if !ok {
		s.catalogMu.Unlock()
		return workspace.Info{}, errWorkspaceNotFound
	}
	entry.CodexBin = codexBin
	s.workspaces[id] = entry
	list := s.snapshotLocked()
	s.catalogMu.Unlock()

	if err := workspace.WriteEntries(s.storagePath, list); err != nil {
		return workspace.Info{}, err
	}
	return workspace.NewInfo(entry, s.isConnected(id)), nil
}

func (s *State) isConnected(id string) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// GetAppSettings returns the stored settings with the experimental
// flags overridden by the external codex config when present there.
func (s *State) GetAppSettings() workspace.AppSettings {
	s.settingsMu.Lock()
	settings := s.appSettings
	s.settingsMu.Unlock()

	if value, present, err := codexconfig.ReadCollabEnabled(); err == nil && present {
		settings.ExperimentalCollabEnabled = value
	}
	if value, present, err := codexconfig.ReadCollaborationModesEnabled(); err == nil && present {
		settings.ExperimentalCollaborationModesEnabled = value
	}
	if value, present, err := codexconfig.ReadSteerEnabled(); err == nil && present {
		settings.ExperimentalSteerEnabled = value
	}
	if value, present, err := codexconfig.ReadUnifiedExecEnabled(); err == nil && present {
		settings.ExperimentalUnifiedExecEnabled = value
	}
	return settings
}

// UpdateAppSettings persists new daemon settings and mirrors the
// experimental flags into the codex config. Mirror failures are
// ignored; the settings file is authoritative for the daemon.
func (s *State) UpdateAppSettings(settings workspace.AppSettings) (workspace.AppSettings, error) {
	_ = codexconfig.WriteCollabEnabled(settings.ExperimentalCollabEnabled)
	_ = codexconfig.WriteCollaborationModesEnabled(settings.ExperimentalCollaborationModesEnabled)
	_ = codexconfig.WriteSteerEnabled(settings.ExperimentalSteerEnabled)
	_ = codexconfig.WriteUnifiedExecEnabled(settings.ExperimentalUnifiedExecEnabled)

	if err := workspace.WriteSettings(s.settingsPath, settings); err != nil {
		return workspace.AppSettings{}, err
	}
	s.settingsMu.Lock()
	s.appSettings = settings
	s.settingsMu.Unlock()
	return settings, nil
}

// resolveCodexHome finds a workspace's CODEX_HOME, looking up the
// parent path for worktrees.
func (s *State) resolveCodexHome(entry workspace.Entry) string {
	parentPath := ""
	if entry.ParentID != "" {
		s.catalogMu.Lock()
		if parent, ok := s.workspaces[entry.ParentID]; ok {
			parentPath = parent.Path
		}
		s.catalogMu.Unlock()
	}
	return codexhome.Resolve(entry, parentPath)
}
