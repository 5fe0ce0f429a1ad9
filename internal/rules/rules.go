// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rules manages the approved-command rules file that codex
// consults before asking for exec approval. Rules are JSONL, one
// prefix rule per line.
package rules

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PrefixRule approves any command whose argv starts with Command.
type PrefixRule struct {
	Type    string   `json:"type"`
	Command []string `json:"command"`
}

// DefaultRulesPath returns the rules file under a CODEX_HOME.
func DefaultRulesPath(codexHome string) string {
	return filepath.Join(codexHome, "approved_commands.jsonl")
}

// AppendPrefixRule records a prefix rule for the command. Appending an
// already-recorded command is a no-op.
func AppendPrefixRule(path string, command []string) error {
	existing, err := readRules(path)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if rule.Type == "prefix" && equalCommand(rule.Command, command) {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}
	line, err := json.Marshal(PrefixRule{Type: "prefix", Command: command})
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append rule: %w", err)
	}
	return nil
}

func readRules(path string) ([]PrefixRule, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	var rules []PrefixRule
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rule PrefixRule
		if err := json.Unmarshal(line, &rule); err != nil {
			// Tolerate unknown rule shapes written by other tools.
			continue
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return rules, nil
}

func equalCommand(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
