// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codexconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCodexHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CODEX_HOME", home)
	return home
}

func TestConfigTomlPath_UsesCodexHome(t *testing.T) {
	home := withCodexHome(t)
	path, ok := ConfigTomlPath()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(home, "config.toml"), path)
}

func TestReadFlag_MissingFile(t *testing.T) {
	withCodexHome(t)
	value, present, err := ReadCollabEnabled()
	require.NoError(t, err)
	assert.False(t, present)
	assert.False(t, value)
}

func TestWriteThenReadFlag(t *testing.T) {
	withCodexHome(t)
	require.NoError(t, WriteSteerEnabled(true))

	value, present, err := ReadSteerEnabled()
	require.NoError(t, err)
	assert.True(t, present)
	assert.True(t, value)

	require.NoError(t, WriteSteerEnabled(false))
	value, present, err = ReadSteerEnabled()
	require.NoError(t, err)
	assert.True(t, present)
	assert.False(t, value)
}

func TestWriteFlag_PreservesUnrelatedKeys(t *testing.T) {
	home := withCodexHome(t)
	path := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("model = \"gpt-5\"\n\n[profiles.fast]\nmodel = \"gpt-5-mini\"\n"), 0644))

	require.NoError(t, WriteUnifiedExecEnabled(true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "model = \"gpt-5\"")
	assert.Contains(t, string(data), "gpt-5-mini")
	assert.Contains(t, string(data), "experimental_unified_exec_enabled = true")

	value, present, err := ReadUnifiedExecEnabled()
	require.NoError(t, err)
	assert.True(t, present)
	assert.True(t, value)
}
