// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codex-monitor/daemon/internal/events"
)

// Version is reported to child processes via the client version.
const Version = "0.1.0"

// maxLineBytes bounds a single request line from a client.
const maxLineBytes = 10 * 1024 * 1024

// Server accepts TCP clients speaking newline-delimited JSON-RPC and
// multiplexes them onto the daemon state.
type Server struct {
	listen string
	token  string // empty disables auth
	state  *State
	bus    *events.Bus
}

// NewServer creates a server. An empty token means clients are
// trusted without an auth handshake.
func NewServer(listen, token string, state *State, bus *events.Bus) *Server {
	return &Server{listen: listen, token: token, state: state, bus: bus}
}

// ClientVersion is the version string passed to spawned children.
func ClientVersion() string { return "daemon-" + Version }

// Run listens and serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	log.Printf("codex-monitor-daemon listening on %s (data dir: %s)", ln.Addr(), s.state.DataDir())
	return s.serve(ctx, ln)
}

func (s *Server) serve(parent context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(parent)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("accept: %v", err)
				continue
			}
			go s.handleConn(ctx, conn)
		}
	})
	err := g.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

// response frames. A request without a usable id gets no response.
type resultFrame struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result"`
}

type errorFrame struct {
	ID    uint64    `json:"id"`
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)

	// Single writer goroutine; everything else enqueues frames.
	out := make(chan []byte, 256)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-out:
				if _, err := conn.Write(append(frame, '\n')); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Cancel before waiting: the writer and the event forwarder only
	// exit on ctx.Done, so the order here is what unblocks them.
	defer func() {
		cancel()
		writerWG.Wait()
		conn.Close()
	}()

	send := func(v any) {
		frame, err := json.Marshal(v)
		if err != nil {
			log.Printf("marshal response: %v", err)
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
		}
	}
	sendResult := func(id *uint64, result any) {
		if id != nil {
			send(resultFrame{ID: *id, Result: result})
		}
	}
	sendError := func(id *uint64, message string) {
		if id != nil {
			send(errorFrame{ID: *id, Error: errorBody{Message: message}})
		}
	}

	authenticated := s.token == ""
	forwarding := false
	startForwarder := func() {
		if forwarding {
			return
		}
		forwarding = true
		sub := s.bus.Subscribe()
		if sub == nil {
			return
		}
		go forwardEvents(ctx, sub, send)
	}
	if authenticated {
		startForwarder()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var frame struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}
		id := parseFrameID(frame.ID)

		if !authenticated {
			if frame.Method != "auth" {
				sendError(id, "unauthorized")
				continue
			}
			if parseAuthToken(frame.Params) != s.token {
				sendError(id, "invalid token")
				continue
			}
			authenticated = true
			startForwarder()
			sendResult(id, map[string]any{"ok": true})
			continue
		}

		// Requests run concurrently so a slow child call cannot stall
		// the connection.
		method, params := frame.Method, frame.Params
		go func() {
			result, err := s.state.HandleRPC(ctx, method, params, ClientVersion())
			if err != nil {
				sendError(id, err.Error())
				return
			}
			sendResult(id, result)
		}()
	}
}

func parseFrameID(raw json.RawMessage) *uint64 {
	if len(raw) == 0 {
		return nil
	}
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil
	}
	return &id
}

// parseAuthToken accepts both a bare string and {"token": "..."} as
// auth params.
func parseAuthToken(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return token
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		return body.Token
	}
	return ""
}

// notification frame pushed to subscribed clients.
type eventFrame struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

func forwardEvents(ctx context.Context, sub *events.Subscription, send func(any)) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			send(eventFrame{Method: string(event.Kind), Params: event.Payload})
		}
	}
}
