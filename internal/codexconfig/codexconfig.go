// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package codexconfig reads and writes the experimental feature flags
// in the external codex config.toml. The daemon mirrors its settings
// into that file so the codex CLI sees the same toggles; unrelated
// keys in the file are preserved.
package codexconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	keyCollabEnabled             = "experimental_collab_enabled"
	keyCollaborationModesEnabled = "experimental_collaboration_modes_enabled"
	keySteerEnabled              = "experimental_steer_enabled"
	keyUnifiedExecEnabled        = "experimental_unified_exec_enabled"
)

// ConfigTomlPath returns the codex config.toml location: $CODEX_HOME
// when set, otherwise ~/.codex. The bool is false when neither can be
// resolved.
func ConfigTomlPath() (string, bool) {
	if home := strings.TrimSpace(os.Getenv("CODEX_HOME")); home != "" {
		return filepath.Join(home, "config.toml"), true
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", false
	}
	return filepath.Join(home, ".codex", "config.toml"), true
}

func ReadCollabEnabled() (bool, bool, error)  { return readFlag(keyCollabEnabled) }
func WriteCollabEnabled(value bool) error     { return writeFlag(keyCollabEnabled, value) }
func ReadSteerEnabled() (bool, bool, error)   { return readFlag(keySteerEnabled) }
func WriteSteerEnabled(value bool) error      { return writeFlag(keySteerEnabled, value) }

func ReadCollaborationModesEnabled() (bool, bool, error) {
	return readFlag(keyCollaborationModesEnabled)
}

func WriteCollaborationModesEnabled(value bool) error {
	return writeFlag(keyCollaborationModesEnabled, value)
}

func ReadUnifiedExecEnabled() (bool, bool, error) { return readFlag(keyUnifiedExecEnabled) }
func WriteUnifiedExecEnabled(value bool) error    { return writeFlag(keyUnifiedExecEnabled, value) }

// readFlag returns (value, present, err). A missing file or key is
// (false, false, nil).
func readFlag(key string) (bool, bool, error) {
	path, ok := ConfigTomlPath()
	if !ok {
		return false, false, nil
	}
	doc, err := load(path)
	if err != nil {
		return false, false, err
	}
	raw, ok := doc[key]
	if !ok {
		return false, false, nil
	}
	value, ok := raw.(bool)
	if !ok {
		return false, false, nil
	}
	return value, true, nil
}

// writeFlag sets one top-level key, keeping everything else in the
// file intact.
func writeFlag(key string, value bool) error {
	path, ok := ConfigTomlPath()
	if !ok {
		return fmt.Errorf("unable to resolve codex config path")
	}
	doc, err := load(path)
	if err != nil {
		return err
	}
	doc[key] = value

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create codex home: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write codex config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encode codex config: %w", err)
	}
	return nil
}

func load(path string) (map[string]any, error) {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read codex config: %w", err)
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse codex config: %w", err)
	}
	return doc, nil
}
