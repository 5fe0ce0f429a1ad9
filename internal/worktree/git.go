// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs the git operations the worktree lifecycle needs. Implemented
// by RealGit; tests substitute a fake.
type Git interface {
	// Run executes git with the given arguments in dir and returns
	// trimmed stdout. On failure the error carries trimmed stderr
	// (falling back to stdout, then a generic message).
	Run(ctx context.Context, dir string, args ...string) (string, error)
	// BranchExists reports whether refs/heads/<branch> exists.
	BranchExists(ctx context.Context, dir, branch string) (bool, error)
	// RemoteExists reports whether the named remote is configured.
	RemoteExists(ctx context.Context, dir, remote string) (bool, error)
	// RemoteBranchExists checks the cached remote-tracking ref
	// refs/remotes/<remote>/<branch>.
	RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error)
	// RemoteBranchExistsLive queries the remote over the network.
	RemoteBranchExistsLive(ctx context.Context, dir, remote, branch string) (bool, error)
	// ListRemotes returns the configured remote names.
	ListRemotes(ctx context.Context, dir string) ([]string, error)
}

// RealGit shells out to the git binary.
type RealGit struct{}

// NewRealGit creates a git driver backed by the git CLI.
func NewRealGit() *RealGit {
	return &RealGit{}
}

func (g *RealGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("Failed to run git: %v", err)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			return "", errors.New("Git command failed.")
		}
		return "", errors.New(detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// succeeds executes git for its exit status only.
func (g *RealGit) succeeds(ctx context.Context, dir string, args ...string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("Failed to run git: %v", err)
	}
	return true, nil
}

func (g *RealGit) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	return g.succeeds(ctx, dir, "show-ref", "--verify", "refs/heads/"+branch)
}

func (g *RealGit) RemoteExists(ctx context.Context, dir, remote string) (bool, error) {
	return g.succeeds(ctx, dir, "remote", "get-url", remote)
}

func (g *RealGit) RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error) {
	return g.succeeds(ctx, dir, "show-ref", "--verify", "refs/remotes/"+remote+"/"+branch)
}

func (g *RealGit) RemoteBranchExistsLive(ctx context.Context, dir, remote, branch string) (bool, error) {
	out, err := g.Run(ctx, dir, "ls-remote", "--heads", remote, "refs/heads/"+branch)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (g *RealGit) ListRemotes(ctx context.Context, dir string) ([]string, error) {
	out, err := g.Run(ctx, dir, "remote")
	if err != nil {
		return nil, err
	}
	var remotes []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			remotes = append(remotes, line)
		}
	}
	return remotes, nil
}

// IsMissingWorktreeError reports whether a git error indicates the
// worktree directory no longer exists on disk.
func IsMissingWorktreeError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "is not a working tree")
}

// FindRemoteTrackingBranch returns "<remote>/<branch>" for the first
// remote whose cached tracking ref has the branch, preferring origin.
// Returns "" when no remote tracks it.
func FindRemoteTrackingBranch(ctx context.Context, git Git, dir, branch string) (string, error) {
	ok, err := git.RemoteBranchExists(ctx, dir, "origin", branch)
	if err != nil {
		return "", err
	}
	if ok {
		return "origin/" + branch, nil
	}
	remotes, err := git.ListRemotes(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, remote := range remotes {
		if remote == "origin" {
			continue
		}
		ok, err := git.RemoteBranchExists(ctx, dir, remote, branch)
		if err != nil {
			return "", err
		}
		if ok {
			return remote + "/" + branch, nil
		}
	}
	return "", nil
}

// FindRemoteForBranch returns the first remote that has the branch
// according to a live query, preferring origin. Returns "" when none
// does.
func FindRemoteForBranch(ctx context.Context, git Git, dir, branch string) (string, error) {
	ok, err := git.RemoteExists(ctx, dir, "origin")
	if err != nil {
		return "", err
	}
	if ok {
		live, err := git.RemoteBranchExistsLive(ctx, dir, "origin", branch)
		if err != nil {
			return "", err
		}
		if live {
			return "origin", nil
		}
	}
	remotes, err := git.ListRemotes(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, remote := range remotes {
		if remote == "origin" {
			continue
		}
		live, err := git.RemoteBranchExistsLive(ctx, dir, remote, branch)
		if err != nil {
			return "", err
		}
		if live {
			return remote, nil
		}
	}
	return "", nil
}

// UniqueBranchName finds a branch name that collides with neither a
// local branch nor, when remote is non-empty, a live remote branch.
// The desired name is tried first, then desired-2 through desired-999.
// The bool result reports whether the name was adjusted.
func UniqueBranchName(ctx context.Context, git Git, dir, desired, remote string) (string, bool, error) {
	if desired == "" {
		return desired, false, nil
	}
	taken := func(name string) (bool, error) {
		local, err := git.BranchExists(ctx, dir, name)
		if err != nil {
			return false, err
		}
		if local {
			return true, nil
		}
		if remote == "" {
			return false, nil
		}
		return git.RemoteBranchExistsLive(ctx, dir, remote, name)
	}
	used, err := taken(desired)
	if err != nil {
		return "", false, err
	}
	if !used {
		return desired, false, nil
	}
	for index := 2; index < 1000; index++ {
		candidate := fmt.Sprintf("%s-%d", desired, index)
		used, err := taken(candidate)
		if err != nil {
			return "", false, err
		}
		if !used {
			return candidate, true, nil
		}
	}
	return "", false, errors.New("Unable to find an available branch name.")
}
