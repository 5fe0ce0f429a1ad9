// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxWorkspaceFileBytes caps read_workspace_file responses.
const maxWorkspaceFileBytes = 400_000

// maxWorkspaceFiles caps list_workspace_files results.
const maxWorkspaceFiles = 20_000

// FileResponse is the read_workspace_file result.
type FileResponse struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// Directories that never contain files worth listing. Skipped at any
// depth below the root.
func shouldSkipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "dist", "target", "release-artifacts":
		return true
	}
	return false
}

// ListWorkspaceFiles walks the workspace and returns sorted
// slash-separated relative paths, capped at maxWorkspaceFiles.
func (s *State) ListWorkspaceFiles(workspaceID string) ([]string, error) {
	entry, err := s.getEntry(workspaceID)
	if err != nil {
		return nil, err
	}
	return listFiles(entry.Path, maxWorkspaceFiles), nil
}

func listFiles(root string, maxFiles int) []string {
	results := []string{}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "" {
			return nil
		}
		results = append(results, filepath.ToSlash(rel))
		if len(results) >= maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	sort.Strings(results)
	return results
}

// ReadWorkspaceFile returns a file's content, capped and flagged when
// truncated. The path is resolved against the workspace root and must
// stay inside it after symlink resolution.
func (s *State) ReadWorkspaceFile(workspaceID, relativePath string) (FileResponse, error) {
	entry, err := s.getEntry(workspaceID)
	if err != nil {
		return FileResponse{}, err
	}
	return readFile(entry.Path, relativePath)
}

func readFile(root, relativePath string) (FileResponse, error) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return FileResponse{}, fmt.Errorf("Failed to resolve workspace root: %v", err)
	}
	candidate := filepath.Join(canonicalRoot, relativePath)
	canonicalPath, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return FileResponse{}, fmt.Errorf("Failed to open file: %v", err)
	}
	if canonicalPath != canonicalRoot && !strings.HasPrefix(canonicalPath, canonicalRoot+string(filepath.Separator)) {
		return FileResponse{}, errors.New("Invalid file path")
	}

	info, err := os.Stat(canonicalPath)
	if err != nil {
		return FileResponse{}, fmt.Errorf("Failed to read file metadata: %v", err)
	}
	if !info.Mode().IsRegular() {
		return FileResponse{}, errors.New("Path is not a file")
	}

	f, err := os.Open(canonicalPath)
	if err != nil {
		return FileResponse{}, fmt.Errorf("Failed to open file: %v", err)
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, maxWorkspaceFileBytes+1))
	if err != nil {
		return FileResponse{}, fmt.Errorf("Failed to read file: %v", err)
	}
	truncated := len(buf) > maxWorkspaceFileBytes
	if truncated {
		buf = buf[:maxWorkspaceFileBytes]
	}
	if !utf8.Valid(buf) {
		return FileResponse{}, errors.New("File is not valid UTF-8")
	}
	return FileResponse{Content: string(buf), Truncated: truncated}, nil
}
