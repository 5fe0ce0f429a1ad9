// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config parses the daemon's command line. Flags are order
// sensitive: --insecure-no-auth clears any token seen so far, and a
// later --token re-enables auth.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
)

// DefaultListenAddr is the bind address when --listen is absent.
const DefaultListenAddr = "127.0.0.1:4732"

// TokenEnvVar supplies a default token when --token is absent.
const TokenEnvVar = "CODEX_MONITOR_DAEMON_TOKEN"

// ErrHelp is returned when -h/--help was given; the caller prints
// usage and exits cleanly.
var ErrHelp = errors.New("help requested")

// Config is the daemon's startup configuration.
type Config struct {
	Listen  string
	Token   string // empty disables auth
	DataDir string
}

// Usage returns the help text.
func Usage() string {
	return "USAGE:\n" +
		"  codex-monitor-daemon [--listen <addr>] [--data-dir <path>] [--token <token> | --insecure-no-auth]\n\n" +
		"OPTIONS:\n" +
		"  --listen <addr>        Bind address (default: " + DefaultListenAddr + ")\n" +
		"  --data-dir <path>      Data dir holding workspaces.json/settings.json\n" +
		"  --token <token>        Shared token required by clients\n" +
		"  --insecure-no-auth      Disable auth (dev only)\n" +
		"  -h, --help             Show this help\n"
}

// Parse builds a Config from argv (without the program name) and the
// environment.
func Parse(args []string) (Config, error) {
	listen := DefaultListenAddr
	token := strings.TrimSpace(os.Getenv(TokenEnvVar))
	insecureNoAuth := false
	dataDir := ""

	next := func(i *int, flag string) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			return Config{}, ErrHelp
		case "--listen":
			value, err := next(&i, "--listen")
			if err != nil {
				return Config{}, err
			}
			if _, err := netip.ParseAddrPort(value); err != nil {
				return Config{}, err
			}
			listen = value
		case "--token":
			value, err := next(&i, "--token")
			if err != nil {
				return Config{}, err
			}
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				return Config{}, errors.New("--token requires a non-empty value")
			}
			token = trimmed
		case "--data-dir":
			value, err := next(&i, "--data-dir")
			if err != nil {
				return Config{}, err
			}
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				return Config{}, errors.New("--data-dir requires a non-empty value")
			}
			dataDir = trimmed
		case "--insecure-no-auth":
			insecureNoAuth = true
			token = ""
		default:
			return Config{}, fmt.Errorf("Unknown argument: %s", args[i])
		}
	}

	if token == "" && !insecureNoAuth {
		return Config{}, errors.New("Missing --token (or set " + TokenEnvVar + "). Use --insecure-no-auth for local dev only.")
	}

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return Config{Listen: listen, Token: token, DataDir: dataDir}, nil
}

// DefaultDataDir is $XDG_DATA_HOME/codex-monitor-daemon, falling back
// to ~/.local/share/codex-monitor-daemon.
func DefaultDataDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "codex-monitor-daemon")
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "codex-monitor-daemon")
}
