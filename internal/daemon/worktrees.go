// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codex-monitor/daemon/internal/codexhome"
	"github.com/codex-monitor/daemon/internal/workspace"
	"github.com/codex-monitor/daemon/internal/worktree"
)

// worktreeRoot is where a parent's worktree checkouts live:
// <data-dir>/worktrees/<parent-id>/<branch-name>.
func (s *State) worktreeRoot(parentID string) string {
	return filepath.Join(s.dataDir, "worktrees", parentID)
}

// AddWorktree creates a git worktree for a branch under a main
// workspace and registers it as a new workspace with its own session.
func (s *State) AddWorktree(ctx context.Context, parentID, branch, clientVersion string) (workspace.Info, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return workspace.Info{}, errBranchRequired
	}

	parent, err := s.getEntry(parentID)
	if err != nil {
		return workspace.Info{}, errParentNotFound
	}
	if parent.Kind.IsWorktree() {
		return workspace.Info{}, errors.New("Cannot create a worktree from another worktree.")
	}

	root := s.worktreeRoot(parent.ID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return workspace.Info{}, fmt.Errorf("Failed to create worktree directory: %v", err)
	}

	safeName := worktree.SanitizeWorktreeName(branch)
	path, err := worktree.UniqueWorktreePath(root, safeName)
	if err != nil {
		return workspace.Info{}, err
	}

	// An existing local branch is checked out directly; a branch known
	// only to a remote starts from its tracking ref; otherwise a fresh
	// branch is created at HEAD.
	branchExists, err := s.git.BranchExists(ctx, parent.Path, branch)
	if err != nil {
		return workspace.Info{}, err
	}
	if branchExists {
		if _, err := s.git.Run(ctx, parent.Path, "worktree", "add", path, branch); err != nil {
			return workspace.Info{}, err
		}
	} else {
		remoteRef, err := worktree.FindRemoteTrackingBranch(ctx, s.git, parent.Path, branch)
		if err != nil {
			return workspace.Info{}, err
		}
		if remoteRef != "" {
			if _, err := s.git.Run(ctx, parent.Path, "worktree", "add", "-b", branch, path, remoteRef); err != nil {
				return workspace.Info{}, err
			}
		} else {
			if _, err := s.git.Run(ctx, parent.Path, "worktree", "add", "-b", branch, path); err != nil {
				return workspace.Info{}, err
			}
		}
	}

	entry := workspace.Entry{
		ID:       uuid.NewString(),
		Name:     branch,
		Path:     path,
		CodexBin: parent.CodexBin,
		Kind:     workspace.KindWorktree,
		ParentID: parent.ID,
		Worktree: &workspace.WorktreeMeta{Branch: branch},
	}

	home := codexhome.Resolve(entry, parent.Path)
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

// removeWorktreeCheckout removes a worktree checkout via git, falling
// back to deleting the directory when git no longer knows it.
func (s *State) removeWorktreeCheckout(ctx context.Context, repoPath, worktreePath string) error {
	if _, statErr := os.Stat(worktreePath); statErr != nil {
		return nil
	}
	_, err := s.git.Run(ctx, repoPath, "worktree", "remove", "--force", worktreePath)
	if err == nil {
		return nil
	}
	if !worktree.IsMissingWorktreeError(err) {
		return err
	}
	if _, statErr := os.Stat(worktreePath); statErr != nil {
		return nil
	}
	if fsErr := os.RemoveAll(worktreePath); fsErr != nil {
		return fmt.Errorf("Failed to remove worktree folder: %v", fsErr)
	}
	return nil
}

// RemoveWorkspace removes a main workspace after removing all of its
// worktree children. Children that were removed are always dropped
// from the catalog; when any child fails, the parent stays and the
// error lists each failure.
func (s *State) RemoveWorkspace(ctx context.Context, id string) error {
	s.catalogMu.Lock()
	entry, ok := s.workspaces[id]
	if !ok {
		s.catalogMu.Unlock()
		return errWorkspaceNotFound
	}
	if entry.Kind.IsWorktree() {
		s.catalogMu.Unlock()
		return errors.New("Use remove_worktree for worktree agents.")
	}
	var children []workspace.Entry
	for _, candidate := range s.workspaces {
		if candidate.ParentID == id {
			children = append(children, candidate)
		}
	}
	s.catalogMu.Unlock()

	var removedIDs []string
	type failure struct {
		childID string
		err     error
	}
	var failures []failure

	for _, child := range children {
		if err := s.removeWorktreeCheckout(ctx, entry.Path, child.Path); err != nil {
			failures = append(failures, failure{child.ID, err})
			continue
		}
		s.killSession(child.ID)
		removedIDs = append(removedIDs, child.ID)
	}

	if _, err := s.git.Run(ctx, entry.Path, "worktree", "prune", "--expire", "now"); err != nil {
		log.Printf("worktree prune for %s: %v", entry.Path, err)
	}

	if len(failures) == 0 {
		s.killSession(id)
		removedIDs = append(removedIDs, id)
	}

	if len(removedIDs) > 0 {
		s.catalogMu.Lock()
		for _, removed := range removedIDs {
			delete(s.workspaces, removed)
		}
		list := s.snapshotLocked()
		s.catalogMu.Unlock()
		if err := workspace.WriteEntries(s.storagePath, list); err != nil {
			return err
		}
	}

	if len(failures) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("Failed to remove one or more worktrees; parent workspace was not removed.")
	for _, f := range failures {
		fmt.Fprintf(&b, "\n- %s: %v", f.childID, f.err)
	}
	return errors.New(b.String())
}

// RemoveWorktree removes a single worktree workspace: the checkout,
// its session, and its catalog entry.
func (s *State) RemoveWorktree(ctx context.Context, id string) error {
	entry, parent, err := s.worktreeAndParent(id)
	if err != nil {
		return err
	}

	if err := s.removeWorktreeCheckout(ctx, parent.Path, entry.Path); err != nil {
		return err
	}
	if _, err := s.git.Run(ctx, parent.Path, "worktree", "prune", "--expire", "now"); err != nil {
		log.Printf("worktree prune for %s: %v", parent.Path, err)
	}

	s.killSession(entry.ID)

	s.catalogMu.Lock()
	delete(s.workspaces, entry.ID)
	list := s.snapshotLocked()
	s.catalogMu.Unlock()
	return workspace.WriteEntries(s.storagePath, list)
}

func (s *State) worktreeAndParent(id string) (workspace.Entry, workspace.Entry, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	entry, ok := s.workspaces[id]
	if !ok {
		return workspace.Entry{}, workspace.Entry{}, errWorkspaceNotFound
	}
	if !entry.Kind.IsWorktree() {
		return workspace.Entry{}, workspace.Entry{}, errNotAWorktree
	}
	if entry.ParentID == "" {
		return workspace.Entry{}, workspace.Entry{}, errWorktreeParentNotFound
	}
	parent, ok := s.workspaces[entry.ParentID]
	if !ok {
		return workspace.Entry{}, workspace.Entry{}, errWorktreeParentNotFound
	}
	return entry, parent, nil
}

// RenameWorktree renames a worktree's branch and moves its checkout to
// a directory matching the new name. A failed move rolls the branch
// rename back. When the workspace had a live session it is restarted
// under the new path.
func (s *State) RenameWorktree(ctx context.Context, id, branch, clientVersion string) (workspace.Info, error) {
	trimmed := strings.TrimSpace(branch)
	if trimmed == "" {
		return workspace.Info{}, errBranchRequired
	}

	entry, parent, err := s.worktreeAndParent(id)
	if err != nil {
		return workspace.Info{}, err
	}
	if entry.Worktree == nil {
		return workspace.Info{}, errors.New("worktree metadata missing")
	}
	oldBranch := entry.Worktree.Branch
	if oldBranch == trimmed {
		return workspace.Info{}, errBranchUnchanged
	}

	finalBranch, _, err := worktree.UniqueBranchName(ctx, s.git, parent.Path, trimmed, "")
	if err != nil {
		return workspace.Info{}, err
	}
	if finalBranch == oldBranch {
		return workspace.Info{}, errBranchUnchanged
	}

	if _, err := s.git.Run(ctx, parent.Path, "branch", "-m", oldBranch, finalBranch); err != nil {
		return workspace.Info{}, err
	}

	root := s.worktreeRoot(parent.ID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return workspace.Info{}, fmt.Errorf("Failed to create worktree directory: %v", err)
	}
	safeName := worktree.SanitizeWorktreeName(finalBranch)
	nextPath, err := worktree.UniqueWorktreePathForRename(root, safeName, entry.Path)
	if err != nil {
		return workspace.Info{}, err
	}
	if nextPath != entry.Path {
		if _, err := s.git.Run(ctx, parent.Path, "worktree", "move", entry.Path, nextPath); err != nil {
			if _, undoErr := s.git.Run(ctx, parent.Path, "branch", "-m", finalBranch, oldBranch); undoErr != nil {
				log.Printf("rename_worktree: branch rollback failed for %s: %v", id, undoErr)
			}
			return workspace.Info{}, err
		}
	}

	s.catalogMu.Lock()
	stored, ok := s.workspaces[id]
	if !ok {
		s.catalogMu.Unlock()
		return workspace.Info{}, errWorkspaceNotFound
	}
	stored.Name = finalBranch
	stored.Path = nextPath
	stored.Worktree = &workspace.WorktreeMeta{Branch: finalBranch}
	s.workspaces[id] = stored
	list := s.snapshotLocked()
	s.catalogMu.Unlock()
	if err := workspace.WriteEntries(s.storagePath, list); err != nil {
		return workspace.Info{}, err
	}

	// The child runs with the old cwd; restart it under the new path.
	if s.isConnected(id) {
		s.killSession(id)
		home := codexhome.Resolve(stored, parent.Path)
		sess, err := s.spawn(stored, s.defaultBin(), clientVersion, s.sink, home)
		if err != nil {
			log.Printf("rename_worktree: respawn failed for %s after rename: %v", id, err)
		} else {
			s.sessionsMu.Lock()
			s.sessions[id] = sess
			s.sessionsMu.Unlock()
		}
	}

	return workspace.NewInfo(stored, s.isConnected(id)), nil
}

// RenameWorktreeUpstream renames the branch on its remote: push the
// new name, delete the old one when the remote had it, and point the
// local branch's upstream at the new ref.
func (s *State) RenameWorktreeUpstream(ctx context.Context, id, oldBranch, newBranch string) error {
	oldBranch = strings.TrimSpace(oldBranch)
	newBranch = strings.TrimSpace(newBranch)
	if oldBranch == "" || newBranch == "" {
		return errBranchRequired
	}
	if oldBranch == newBranch {
		return errBranchUnchanged
	}

	_, parent, err := s.worktreeAndParent(id)
	if err != nil {
		return err
	}

	exists, err := s.git.BranchExists(ctx, parent.Path, newBranch)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("Local branch not found.")
	}

	remoteForOld, err := worktree.FindRemoteForBranch(ctx, s.git, parent.Path, oldBranch)
	if err != nil {
		return err
	}
	remoteName := remoteForOld
	if remoteName == "" {
		hasOrigin, err := s.git.RemoteExists(ctx, parent.Path, "origin")
		if err != nil {
			return err
		}
		if !hasOrigin {
			return errors.New("No git remote configured for this worktree.")
		}
		remoteName = "origin"
	}

	taken, err := s.git.RemoteBranchExistsLive(ctx, parent.Path, remoteName, newBranch)
	if err != nil {
		return err
	}
	if taken {
		return errors.New("Remote branch already exists.")
	}

	if remoteForOld != "" {
		if _, err := s.git.Run(ctx, parent.Path, "push", remoteName, newBranch+":"+newBranch); err != nil {
			return err
		}
		if _, err := s.git.Run(ctx, parent.Path, "push", remoteName, ":"+oldBranch); err != nil {
			return err
		}
	} else {
		if _, err := s.git.Run(ctx, parent.Path, "push", remoteName, newBranch); err != nil {
			return err
		}
	}

	_, err = s.git.Run(ctx, parent.Path, "branch", "--set-upstream-to", remoteName+"/"+newBranch, newBranch)
	return err
}
