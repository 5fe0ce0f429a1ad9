// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/codex-monitor/daemon/internal/codexconfig"
	"github.com/codex-monitor/daemon/internal/workspace"
)

// rpcParams is a request's params object. nil means params was absent
// or not an object.
type rpcParams map[string]json.RawMessage

func decodeParams(raw json.RawMessage) rpcParams {
	if len(raw) == 0 {
		return nil
	}
	var params rpcParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}

func parseString(params rpcParams, key string) (string, error) {
	if params == nil {
		return "", fmt.Errorf("missing `%s`", key)
	}
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing or invalid `%s`", key)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("missing or invalid `%s`", key)
	}
	return value, nil
}

func parseOptionalString(params rpcParams, key string) *string {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	return &value
}

func parseOptionalU32(params rpcParams, key string) *uint32 {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	var value uint64
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	if value > math.MaxUint32 {
		return nil
	}
	v := uint32(value)
	return &v
}

// parseOptionalStringArray keeps only the string items, like a client
// mixing types would expect from a lenient server.
func parseOptionalStringArray(params rpcParams, key string) []string {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}

func parseStringArray(params rpcParams, key string) ([]string, error) {
	values := parseOptionalStringArray(params, key)
	if values == nil {
		return nil, fmt.Errorf("missing `%s`", key)
	}
	return values, nil
}

func parseOptionalValue(params rpcParams, key string) json.RawMessage {
	return params[key]
}

// HandleRPC executes one authenticated request and returns the value
// to place in the response's result field.
func (s *State) HandleRPC(ctx context.Context, method string, rawParams json.RawMessage, clientVersion string) (any, error) {
	params := decodeParams(rawParams)
	ok := map[string]any{"ok": true}

	switch method {
	case "ping":
		return ok, nil

	case "list_workspaces":
		return s.ListWorkspaces(), nil

	case "is_workspace_path_dir":
		path, err := parseString(params, "path")
		if err != nil {
			return nil, err
		}
		return s.IsWorkspacePathDir(path), nil

	case "add_workspace":
		path, err := parseString(params, "path")
		if err != nil {
			return nil, err
		}
		codexBin := ""
		if v := parseOptionalString(params, "codex_bin"); v != nil {
			codexBin = *v
		}
		return s.AddWorkspace(path, codexBin, clientVersion)

	case "add_worktree":
		parentID, err := parseString(params, "parentId")
		if err != nil {
			return nil, err
		}
		branch, err := parseString(params, "branch")
		if err != nil {
			return nil, err
		}
		return s.AddWorktree(ctx, parentID, branch, clientVersion)

	case "connect_workspace":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := s.ConnectWorkspace(id, clientVersion); err != nil {
			return nil, err
		}
		return ok, nil

	case "remove_workspace":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := s.RemoveWorkspace(ctx, id); err != nil {
			return nil, err
		}
		return ok, nil

	case "remove_worktree":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := s.RemoveWorktree(ctx, id); err != nil {
			return nil, err
		}
		return ok, nil

	case "rename_worktree":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		branch, err := parseString(params, "branch")
		if err != nil {
			return nil, err
		}
		return s.RenameWorktree(ctx, id, branch, clientVersion)

	case "rename_worktree_upstream":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		oldBranch, err := parseString(params, "oldBranch")
		if err != nil {
			return nil, err
		}
		newBranch, err := parseString(params, "newBranch")
		if err != nil {
			return nil, err
		}
		if err := s.RenameWorktreeUpstream(ctx, id, oldBranch, newBranch); err != nil {
			return nil, err
		}
		return ok, nil

	case "update_workspace_settings":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		var settings workspace.Settings
		if raw, found := params["settings"]; found {
			if err := json.Unmarshal(raw, &settings); err != nil {
				return nil, err
			}
		}
		return s.UpdateWorkspaceSettings(id, settings)

	case "update_workspace_codex_bin":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		codexBin := ""
		if v := parseOptionalString(params, "codex_bin"); v != nil {
			codexBin = *v
		}
		return s.UpdateWorkspaceCodexBin(id, codexBin)

	case "list_workspace_files":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return s.ListWorkspaceFiles(workspaceID)

	case "read_workspace_file":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		path, err := parseString(params, "path")
		if err != nil {
			return nil, err
		}
		return s.ReadWorkspaceFile(workspaceID, path)

	case "get_app_settings":
		return s.GetAppSettings(), nil

	case "update_app_settings":
		var settings workspace.AppSettings
		if params != nil {
			if raw, found := params["settings"]; found {
				if err := json.Unmarshal(raw, &settings); err != nil {
					return nil, err
				}
			}
		}
		return s.UpdateAppSettings(settings)

	case "get_codex_config_path":
		path, found := codexconfig.ConfigTomlPath()
		if !found {
			return nil, errors.New("Unable to resolve CODEX_HOME")
		}
		return path, nil

	case "start_thread":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return s.StartThread(ctx, workspaceID)

	case "resume_thread":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		return s.ResumeThread(ctx, workspaceID, threadID)

	case "list_threads":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		cursor := parseOptionalString(params, "cursor")
		limit := parseOptionalU32(params, "limit")
		return s.ListThreads(ctx, workspaceID, cursor, limit)

	case "archive_thread":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		return s.ArchiveThread(ctx, workspaceID, threadID)

	case "send_user_message":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		text, err := parseString(params, "text")
		if err != nil {
			return nil, err
		}
		msg := UserMessage{
			ThreadID:          threadID,
			Text:              text,
			Model:             parseOptionalString(params, "model"),
			Effort:            parseOptionalString(params, "effort"),
			AccessMode:        parseOptionalString(params, "accessMode"),
			Images:            parseOptionalStringArray(params, "images"),
			CollaborationMode: parseOptionalValue(params, "collaborationMode"),
		}
		return s.SendUserMessage(ctx, workspaceID, msg)

	case "turn_interrupt":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		turnID, err := parseString(params, "turnId")
		if err != nil {
			return nil, err
		}
		return s.TurnInterrupt(ctx, workspaceID, threadID, turnID)

	case "start_review":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		target := parseOptionalValue(params, "target")
		if target == nil {
			return nil, errors.New("missing `target`")
		}
		delivery := parseOptionalString(params, "delivery")
		return s.StartReview(ctx, workspaceID, threadID, target, delivery)

	case "model_list":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return s.ModelList(ctx, workspaceID)

	case "collaboration_mode_list":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return s.CollaborationModeList(ctx, workspaceID)

	case "account_rate_limits":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return s.AccountRateLimits(ctx, workspaceID)

	case "skills_list":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return s.SkillsList(ctx, workspaceID)

	case "respond_to_server_request":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		if params == nil {
			return nil, errors.New("missing requestId")
		}
		var requestID uint64
		raw, found := params["requestId"]
		if !found {
			return nil, errors.New("missing requestId")
		}
		if err := json.Unmarshal(raw, &requestID); err != nil {
			return nil, errors.New("missing requestId")
		}
		result, found := params["result"]
		if !found {
			return nil, errors.New("missing `result`")
		}
		if err := s.RespondToServerRequest(workspaceID, requestID, result); err != nil {
			return nil, err
		}
		return ok, nil

	case "remember_approval_rule":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		command, err := parseStringArray(params, "command")
		if err != nil {
			return nil, err
		}
		rulesPath, err := s.RememberApprovalRule(workspaceID, command)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "rulesPath": rulesPath}, nil
	}

	return nil, fmt.Errorf("unknown method: %s", method)
}
