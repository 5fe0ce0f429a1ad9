// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/codex-monitor/daemon/internal/rules"
)

// StartThread opens a new thread in the workspace's session.
func (s *State) StartThread(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "thread/start", map[string]any{
		"cwd":            sess.Entry.Path,
		"approvalPolicy": "on-request",
	})
}

// ResumeThread reopens an existing thread.
func (s *State) ResumeThread(ctx context.Context, workspaceID, threadID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "thread/resume", map[string]any{"threadId": threadID})
}

// ListThreads pages through the workspace's threads.
func (s *State) ListThreads(ctx context.Context, workspaceID string, cursor *string, limit *uint32) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "thread/list", map[string]any{
		"cursor": cursor,
		"limit":  limit,
	})
}

// ArchiveThread archives a thread.
func (s *State) ArchiveThread(ctx context.Context, workspaceID, threadID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "thread/archive", map[string]any{"threadId": threadID})
}

// UserMessage is the client-facing shape of send_user_message.
type UserMessage struct {
	ThreadID          string
	Text              string
	Model             *string
	Effort            *string
	AccessMode        *string
	Images            []string
	CollaborationMode json.RawMessage
}

// SendUserMessage assembles a turn/start request from a user message:
// sandbox and approval policy derived from the access mode, text and
// image input items, and the optional model overrides.
func (s *State) SendUserMessage(ctx context.Context, workspaceID string, msg UserMessage) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}

	accessMode := "current"
	if msg.AccessMode != nil {
		accessMode = *msg.AccessMode
	}
	var sandboxPolicy map[string]any
	switch accessMode {
	case "full-access":
		sandboxPolicy = map[string]any{"type": "dangerFullAccess"}
	case "read-only":
		sandboxPolicy = map[string]any{"type": "readOnly"}
	default:
		sandboxPolicy = map[string]any{
			"type":          "workspaceWrite",
			"writableRoots": []string{sess.Entry.Path},
			"networkAccess": true,
		}
	}
	approvalPolicy := "on-request"
	if accessMode == "full-access" {
		approvalPolicy = "never"
	}

	var input []map[string]any
	if text := strings.TrimSpace(msg.Text); text != "" {
		input = append(input, map[string]any{"type": "text", "text": text})
	}
	for _, image := range msg.Images {
		image = strings.TrimSpace(image)
		if image == "" {
			continue
		}
		if strings.HasPrefix(image, "data:") || strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") {
			input = append(input, map[string]any{"type": "image", "url": image})
		} else {
			input = append(input, map[string]any{"type": "localImage", "path": image})
		}
	}
	if len(input) == 0 {
		return nil, errors.New("empty user message")
	}

	params := map[string]any{
		"threadId":          msg.ThreadID,
		"input":             input,
		"cwd":               sess.Entry.Path,
		"approvalPolicy":    approvalPolicy,
		"sandboxPolicy":     sandboxPolicy,
		"model":             msg.Model,
		"effort":            msg.Effort,
		"collaborationMode": msg.CollaborationMode,
	}
	return sess.SendRequest(ctx, "turn/start", params)
}

// TurnInterrupt cancels an in-flight turn.
func (s *State) TurnInterrupt(ctx context.Context, workspaceID, threadID, turnID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "turn/interrupt", map[string]any{
		"threadId": threadID,
		"turnId":   turnID,
	})
}

// StartReview kicks off a code review of the given target.
func (s *State) StartReview(ctx context.Context, workspaceID, threadID string, target json.RawMessage, delivery *string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"threadId": threadID,
		"target":   target,
	}
	if delivery != nil {
		params["delivery"] = *delivery
	}
	return sess.SendRequest(ctx, "review/start", params)
}

// ModelList returns the models the child offers.
func (s *State) ModelList(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "model/list", map[string]any{})
}

// CollaborationModeList returns the child's collaboration modes.
func (s *State) CollaborationModeList(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "collaborationMode/list", map[string]any{})
}

// AccountRateLimits reads the account's rate limit status.
func (s *State) AccountRateLimits(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "account/rateLimits/read", nil)
}

// SkillsList lists the skills available in the workspace.
func (s *State) SkillsList(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "skills/list", map[string]any{"cwd": sess.Entry.Path})
}

// RespondToServerRequest relays a client's answer to a server-to-client
// request back into the child.
func (s *State) RespondToServerRequest(workspaceID string, requestID uint64, result json.RawMessage) error {
	sess, err := s.getSession(workspaceID)
	if err != nil {
		return err
	}
	return sess.SendResponse(requestID, result)
}

// RememberApprovalRule persists a prefix approval rule in the
// workspace's CODEX_HOME so the child stops asking about the command.
// Returns the rules file path.
func (s *State) RememberApprovalRule(workspaceID string, command []string) (string, error) {
	cleaned := command[:0:0]
	for _, item := range command {
		item = strings.TrimSpace(item)
		if item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 0 {
		return "", errors.New("empty command")
	}

	entry, err := s.getEntry(workspaceID)
	if err != nil {
		return "", err
	}
	home := s.resolveCodexHome(entry)
	if home == "" {
		return "", errors.New("Unable to resolve CODEX_HOME")
	}
	rulesPath := rules.DefaultRulesPath(home)
	if err := rules.AppendPrefixRule(rulesPath, cleaned); err != nil {
		return "", err
	}
	return rulesPath, nil
}
