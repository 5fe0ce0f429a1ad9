// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session supervises one codex app-server child process per
// connected workspace. A session owns the child's stdin and stdout:
// a writer pump is the sole stdin writer, and a reader pump routes
// stdout frames to pending calls or the event sink.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/codex-monitor/daemon/internal/events"
	"github.com/codex-monitor/daemon/internal/workspace"
)

// maxFrameBytes bounds a single stdout line from the child.
const maxFrameBytes = 10 * 1024 * 1024

// ErrClosed is returned for requests pending or issued after the
// session shut down.
var ErrClosed = errors.New("session closed")

type outcome struct {
	result json.RawMessage
	err    error
}

// Session is a live connection to a workspace's child process.
type Session struct {
	Entry workspace.Entry

	sink     events.Sink
	outgoing chan []byte
	done     chan struct{}

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan outcome

	killOnce sync.Once
	kill     func()
}

// Spawn starts the codex app-server child for a workspace entry and
// wires up its I/O pumps. Binary resolution: the entry's own binary,
// then the daemon-wide default, then "codex" from PATH. codexHome, when
// non-empty, is exported to the child as CODEX_HOME.
func Spawn(entry workspace.Entry, defaultBin, clientVersion string, sink events.Sink, codexHome string) (*Session, error) {
	bin := strings.TrimSpace(entry.CodexBin)
	if bin == "" {
		bin = strings.TrimSpace(defaultBin)
	}
	if bin == "" {
		bin = "codex"
	}

	cmd := exec.Command(bin, "app-server")
	cmd.Dir = entry.Path
	cmd.Env = append(os.Environ(), "CODEX_MONITOR_CLIENT_VERSION="+clientVersion)
	if codexHome != "" {
		cmd.Env = append(cmd.Env, "CODEX_HOME="+codexHome)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	s := New(entry, sink, stdout, stdin, func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return s, nil
}

// New wires a session's pumps over arbitrary streams. Spawn uses it
// with the child's pipes; tests drive it without a real process.
func New(entry workspace.Entry, sink events.Sink, r io.Reader, w io.WriteCloser, kill func()) *Session {
	s := &Session{
		Entry:    entry,
		sink:     sink,
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan outcome),
		kill:     kill,
	}
	go s.writePump(w)
	go s.readPump(r)
	return s
}

func (s *Session) writePump(w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outgoing:
			if _, err := w.Write(append(frame, '\n')); err != nil {
				return
			}
		}
	}
}

// inboundFrame is the superset of response, request, and notification
// shapes the child writes.
type inboundFrame struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (s *Session) readPump(r io.Reader) {
	defer s.Kill()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			log.Printf("session %s: discarding unparseable frame", s.Entry.ID)
			continue
		}

		switch {
		case frame.ID != nil && frame.Method == "":
			s.resolve(*frame.ID, frame)
		case frame.Method != "":
			// Server-to-client request or notification: forwarded
			// whole so clients see the id when one is present.
			s.sink.EmitAppServerEvent(events.AppServerEvent{
				WorkspaceID: s.Entry.ID,
				Message:     json.RawMessage(line),
			})
		}
	}
}

func (s *Session) resolve(id uint64, frame inboundFrame) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if len(frame.Error) > 0 {
		ch <- outcome{err: errors.New(errorMessage(frame.Error))}
		return
	}
	result := frame.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	ch <- outcome{result: result}
}

func errorMessage(raw json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(raw)
}

// SendRequest issues a request to the child and waits for the matching
// response, the session's shutdown, or context cancellation.
func (s *Session) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	ch := make(chan outcome, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	frame, err := json.Marshal(struct {
		ID     uint64 `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params"`
	}{ID: id, Method: method, Params: params})
	if err != nil {
		s.abandon(id)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	select {
	case s.outgoing <- frame:
	case <-s.done:
		s.abandon(id)
		return nil, ErrClosed
	case <-ctx.Done():
		s.abandon(id)
		return nil, ctx.Err()
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		s.abandon(id)
		return nil, ctx.Err()
	}
}

func (s *Session) abandon(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// SendResponse relays a client-supplied result for a server-to-client
// request back to the child. Fire and forget: no reply is expected.
func (s *Session) SendResponse(id uint64, result json.RawMessage) error {
	frame, err := json.Marshal(struct {
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
	}{ID: id, Result: result})
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	select {
	case s.outgoing <- frame:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Kill tears the session down: the child is killed, pumps stop, and
// every pending call fails. Safe to call more than once.
func (s *Session) Kill() {
	s.killOnce.Do(func() {
		close(s.done)
		if s.kill != nil {
			s.kill()
		}
		s.mu.Lock()
		pending := s.pending
		s.pending = make(map[uint64]chan outcome)
		s.mu.Unlock()
		for _, ch := range pending {
			ch <- outcome{err: ErrClosed}
		}
	})
}
