// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// codex-monitor-daemon is a host-side daemon that supervises codex
// agent sessions for registered workspaces and exposes them to
// monitor clients over authenticated TCP JSON-RPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/codex-monitor/daemon/internal/config"
	"github.com/codex-monitor/daemon/internal/daemon"
	"github.com/codex-monitor/daemon/internal/events"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		fmt.Print(config.Usage())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, config.Usage())
		os.Exit(2)
	}

	bus := events.NewBus(events.DefaultCapacity)
	state := daemon.LoadState(cfg.DataDir, bus)
	server := daemon.NewServer(cfg.Listen, cfg.Token, state, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}

	state.KillAllSessions()
	bus.Close()
}
