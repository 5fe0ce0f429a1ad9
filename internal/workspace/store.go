// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadEntries loads the workspace catalog from disk. A missing or empty
// file yields an empty catalog.
func ReadEntries(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("read workspaces file: %w", err)
	}
	if len(data) == 0 {
		return map[string]Entry{}, nil
	}
	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse workspaces file: %w", err)
	}
	entries := make(map[string]Entry, len(list))
	for _, entry := range list {
		entries[entry.ID] = entry
	}
	return entries, nil
}

// WriteEntries persists the workspace catalog atomically.
func WriteEntries(path string, list []Entry) error {
	if list == nil {
		list = []Entry{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspaces: %w", err)
	}
	return writeAtomic(path, data)
}

// ReadSettings loads the daemon settings. A missing or empty file
// yields zero-value settings.
func ReadSettings(path string) (AppSettings, error) {
	var settings AppSettings
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings file: %w", err)
	}
	if len(data) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings file: %w", err)
	}
	return settings, nil
}

// WriteSettings persists the daemon settings atomically.
func WriteSettings(path string, settings AppSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic writes data via a temp file and rename so readers always
// observe a complete document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
