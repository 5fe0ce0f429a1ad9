// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/codex-monitor/daemon/internal/events"
	"github.com/codex-monitor/daemon/internal/session"
	"github.com/codex-monitor/daemon/internal/workspace"
)

// fakeGit scripts git behavior for state tests. Run outcomes are keyed
// by the joined argv; unscripted commands succeed with empty output.
type fakeGit struct {
	mu            sync.Mutex
	calls         []string
	localBranches map[string]bool
	remotes       []string
	trackingRefs  map[string]bool // "remote/branch"
	liveBranches  map[string]bool // "remote/branch"
	runErrs       map[string]error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		localBranches: map[string]bool{},
		trackingRefs:  map[string]bool{},
		liveBranches:  map[string]bool{},
		runErrs:       map[string]error{},
	}
}

func (f *fakeGit) Run(_ context.Context, _ string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	err := f.runErrs[key]
	f.mu.Unlock()
	return "", err
}

func (f *fakeGit) calledWith(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeGit) BranchExists(_ context.Context, _ string, branch string) (bool, error) {
	return f.localBranches[branch], nil
}

func (f *fakeGit) RemoteExists(_ context.Context, _ string, remote string) (bool, error) {
	for _, r := range f.remotes {
		if r == remote {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGit) RemoteBranchExists(_ context.Context, _ string, remote, branch string) (bool, error) {
	return f.trackingRefs[remote+"/"+branch], nil
}

func (f *fakeGit) RemoteBranchExistsLive(_ context.Context, _ string, remote, branch string) (bool, error) {
	return f.liveBranches[remote+"/"+branch], nil
}

func (f *fakeGit) ListRemotes(_ context.Context, _ string) ([]string, error) {
	return f.remotes, nil
}

// childHandler scripts the fake child's response to a request. A
// non-empty errMsg produces an error response.
type childHandler func(method string, params json.RawMessage) (result any, errMsg string)

// fakeChildSpawner builds real sessions backed by an in-process echo
// child so passthrough operations can be exercised end to end.
type fakeChildSpawner struct {
	mu       sync.Mutex
	spawned  []workspace.Entry
	homes    []string
	failWith error
	handler  childHandler
}

func okHandler(method string, params json.RawMessage) (any, string) {
	return map[string]any{"method": method}, ""
}

func (f *fakeChildSpawner) spawn(entry workspace.Entry, defaultBin, clientVersion string, sink events.Sink, codexHome string) (*session.Session, error) {
	f.mu.Lock()
	fail := f.failWith
	handler := f.handler
	if fail == nil {
		f.spawned = append(f.spawned, entry)
		f.homes = append(f.homes, codexHome)
	}
	f.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if handler == nil {
		handler = okHandler
	}

	childIn, daemonOut := io.Pipe()
	daemonIn, childOut := io.Pipe()
	go runFakeChild(childIn, childOut, handler)
	return session.New(entry, sink, daemonIn, daemonOut, func() {
		childIn.Close()
		childOut.Close()
	}), nil
}

func (f *fakeChildSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func runFakeChild(in io.Reader, out io.Writer, handler childHandler) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var frame struct {
			ID     *uint64         `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil || frame.ID == nil {
			continue
		}
		result, errMsg := handler(frame.Method, frame.Params)
		var reply []byte
		if errMsg != "" {
			reply, _ = json.Marshal(map[string]any{
				"id":    *frame.ID,
				"error": map[string]any{"message": errMsg},
			})
		} else {
			reply, _ = json.Marshal(map[string]any{"id": *frame.ID, "result": result})
		}
		if _, err := fmt.Fprintf(out, "%s\n", reply); err != nil {
			return
		}
	}
}

// newTestState builds a State over a temp data dir with scripted git
// and child process behavior.
func newTestState(t *testing.T) (*State, *fakeGit, *fakeChildSpawner) {
	t.Helper()
	git := newFakeGit()
	spawner := &fakeChildSpawner{}
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	state := LoadState(t.TempDir(), bus)
	state.git = git
	state.spawn = spawner.spawn
	t.Cleanup(state.KillAllSessions)
	return state, git, spawner
}
