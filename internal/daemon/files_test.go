// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.txt":                 "b",
		"a.txt":                 "a",
		"src/main.go":           "package main",
		".git/config":           "skip",
		"node_modules/x/y.js":   "skip",
		"dist/out.js":           "skip",
		"target/debug/bin":      "skip",
		"release-artifacts/v1":  "skip",
		"nested/node_modules/z": "skip",
		".hidden/keep.txt":      "kept",
	})

	files := listFiles(root, 1000)
	assert.Equal(t, []string{".hidden/keep.txt", "a.txt", "b.txt", "src/main.go"}, files)
}

func TestListFiles_Cap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, strings.Repeat("f", i+1)+".txt"), []byte("x"), 0644))
	}
	assert.Len(t, listFiles(root, 3), 3)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"docs/readme.md": "hello"})

	resp, err := readFile(root, "docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.False(t, resp.Truncated)
}

func TestReadFile_Truncates(t *testing.T) {
	root := t.TempDir()
	big := strings.Repeat("a", maxWorkspaceFileBytes+100)
	writeTree(t, root, map[string]string{"big.txt": big})

	resp, err := readFile(root, "big.txt")
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Content, maxWorkspaceFileBytes)
}

func TestReadFile_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeTree(t, outside, map[string]string{"secret.txt": "s"})
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))

	_, err := readFile(root, "link.txt")
	require.Error(t, err)
	assert.Equal(t, "Invalid file path", err.Error())
}

func TestReadFile_RejectsDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	_, err := readFile(root, "sub")
	require.Error(t, err)
	assert.Equal(t, "Path is not a file", err.Error())
}

func TestReadFile_RejectsBinary(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x80}, 0644))

	_, err := readFile(root, "blob.bin")
	require.Error(t, err)
	assert.Equal(t, "File is not valid UTF-8", err.Error())
}

func TestReadFile_MissingFile(t *testing.T) {
	root := t.TempDir()
	_, err := readFile(root, "nope.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to open file")
}
