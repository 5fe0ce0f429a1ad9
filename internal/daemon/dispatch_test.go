// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-monitor/daemon/internal/workspace"
)

func callRPC(t *testing.T, state *State, method, params string) (any, error) {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return state.HandleRPC(context.Background(), method, raw, "daemon-test")
}

func TestHandleRPC_Ping(t *testing.T) {
	state, _, _ := newTestState(t)
	result, err := callRPC(t, state, "ping", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
}

func TestHandleRPC_UnknownMethod(t *testing.T) {
	state, _, _ := newTestState(t)
	_, err := callRPC(t, state, "reboot", "{}")
	require.Error(t, err)
	assert.Equal(t, "unknown method: reboot", err.Error())
}

func TestHandleRPC_MissingParams(t *testing.T) {
	state, _, _ := newTestState(t)

	// No params object at all.
	_, err := callRPC(t, state, "add_workspace", "")
	require.Error(t, err)
	assert.Equal(t, "missing `path`", err.Error())

	// Params present but key absent.
	_, err = callRPC(t, state, "add_workspace", `{"other":1}`)
	require.Error(t, err)
	assert.Equal(t, "missing or invalid `path`", err.Error())

	// Wrong type.
	_, err = callRPC(t, state, "add_workspace", `{"path":42}`)
	require.Error(t, err)
	assert.Equal(t, "missing or invalid `path`", err.Error())
}

func TestHandleRPC_IsWorkspacePathDir(t *testing.T) {
	state, _, _ := newTestState(t)
	dir := t.TempDir()

	result, err := callRPC(t, state, "is_workspace_path_dir", `{"path":"`+dir+`"}`)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = callRPC(t, state, "is_workspace_path_dir", `{"path":"`+dir+`/nope"}`)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestHandleRPC_WorkspaceLifecycle(t *testing.T) {
	state, _, _ := newTestState(t)
	dir := t.TempDir()

	result, err := callRPC(t, state, "add_workspace", `{"path":"`+dir+`"}`)
	require.NoError(t, err)
	info, ok := result.(workspace.Info)
	require.True(t, ok)

	result, err = callRPC(t, state, "list_workspaces", "")
	require.NoError(t, err)
	infos, ok := result.([]workspace.Info)
	require.True(t, ok)
	require.Len(t, infos, 1)
	assert.Equal(t, info.ID, infos[0].ID)

	result, err = callRPC(t, state, "connect_workspace", `{"id":"`+info.ID+`"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
}

func TestHandleRPC_PassthroughRequiresConnection(t *testing.T) {
	state, _, _ := newTestState(t)

	for _, method := range []string{
		"start_thread", "model_list", "collaboration_mode_list",
		"account_rate_limits", "skills_list",
	} {
		_, err := callRPC(t, state, method, `{"workspaceId":"nope"}`)
		require.Error(t, err, method)
		assert.Equal(t, "workspace not connected", err.Error(), method)
	}
}

func TestHandleRPC_StartThread(t *testing.T) {
	state, _, spawner := newTestState(t)
	var gotMethod string
	var gotParams json.RawMessage
	spawner.handler = func(method string, params json.RawMessage) (any, string) {
		gotMethod = method
		gotParams = params
		return map[string]any{"threadId": "t-1"}, ""
	}
	info, err := state.AddWorkspace(t.TempDir(), "", "v")
	require.NoError(t, err)

	result, err := callRPC(t, state, "start_thread", `{"workspaceId":"`+info.ID+`"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"threadId":"t-1"}`, string(result.(json.RawMessage)))
	assert.Equal(t, "thread/start", gotMethod)
	assert.JSONEq(t, `{"cwd":"`+info.Path+`","approvalPolicy":"on-request"}`, string(gotParams))
}

func TestHandleRPC_SendUserMessageAssembly(t *testing.T) {
	state, _, spawner := newTestState(t)
	var gotParams json.RawMessage
	spawner.handler = func(method string, params json.RawMessage) (any, string) {
		if method == "turn/start" {
			gotParams = params
		}
		return map[string]any{"ok": true}, ""
	}
	info, err := state.AddWorkspace(t.TempDir(), "", "v")
	require.NoError(t, err)

	_, err = callRPC(t, state, "send_user_message", `{
		"workspaceId":"`+info.ID+`",
		"threadId":"t-1",
		"text":"  do the thing  ",
		"accessMode":"full-access",
		"images":["https://x/y.png"," /tmp/shot.png ",""],
		"model":"gpt-5",
		"effort":"high"
	}`)
	require.NoError(t, err)

	var params struct {
		ThreadID       string           `json:"threadId"`
		Input          []map[string]any `json:"input"`
		Cwd            string           `json:"cwd"`
		ApprovalPolicy string           `json:"approvalPolicy"`
		SandboxPolicy  map[string]any   `json:"sandboxPolicy"`
		Model          *string          `json:"model"`
		Effort         *string          `json:"effort"`
	}
	require.NoError(t, json.Unmarshal(gotParams, &params))
	assert.Equal(t, "t-1", params.ThreadID)
	assert.Equal(t, info.Path, params.Cwd)
	assert.Equal(t, "never", params.ApprovalPolicy)
	assert.Equal(t, map[string]any{"type": "dangerFullAccess"}, params.SandboxPolicy)
	require.Len(t, params.Input, 3)
	assert.Equal(t, map[string]any{"type": "text", "text": "do the thing"}, params.Input[0])
	assert.Equal(t, map[string]any{"type": "image", "url": "https://x/y.png"}, params.Input[1])
	assert.Equal(t, map[string]any{"type": "localImage", "path": "/tmp/shot.png"}, params.Input[2])
	require.NotNil(t, params.Model)
	assert.Equal(t, "gpt-5", *params.Model)
	require.NotNil(t, params.Effort)
	assert.Equal(t, "high", *params.Effort)
}

func TestHandleRPC_SendUserMessageDefaultsAndEmpty(t *testing.T) {
	state, _, spawner := newTestState(t)
	var gotParams json.RawMessage
	spawner.handler = func(method string, params json.RawMessage) (any, string) {
		gotParams = params
		return map[string]any{}, ""
	}
	info, err := state.AddWorkspace(t.TempDir(), "", "v")
	require.NoError(t, err)

	_, err = callRPC(t, state, "send_user_message",
		`{"workspaceId":"`+info.ID+`","threadId":"t","text":"hi"}`)
	require.NoError(t, err)
	var params struct {
		ApprovalPolicy string         `json:"approvalPolicy"`
		SandboxPolicy  map[string]any `json:"sandboxPolicy"`
	}
	require.NoError(t, json.Unmarshal(gotParams, &params))
	assert.Equal(t, "on-request", params.ApprovalPolicy)
	assert.Equal(t, "workspaceWrite", params.SandboxPolicy["type"])
	assert.Equal(t, []any{info.Path}, params.SandboxPolicy["writableRoots"])
	assert.Equal(t, true, params.SandboxPolicy["networkAccess"])

	// Whitespace-only text with no images is rejected.
	_, err = callRPC(t, state, "send_user_message",
		`{"workspaceId":"`+info.ID+`","threadId":"t","text":"   "}`)
	require.Error(t, err)
	assert.Equal(t, "empty user message", err.Error())
}

func TestHandleRPC_RespondToServerRequest(t *testing.T) {
	state, _, _ := newTestState(t)
	info, err := state.AddWorkspace(t.TempDir(), "", "v")
	require.NoError(t, err)

	result, err := callRPC(t, state, "respond_to_server_request",
		`{"workspaceId":"`+info.ID+`","requestId":7,"result":{"decision":"approved"}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)

	_, err = callRPC(t, state, "respond_to_server_request", `{"workspaceId":"`+info.ID+`"}`)
	require.Error(t, err)
	assert.Equal(t, "missing requestId", err.Error())

	_, err = callRPC(t, state, "respond_to_server_request", `{"workspaceId":"`+info.ID+`","requestId":7}`)
	require.Error(t, err)
	assert.Equal(t, "missing `result`", err.Error())
}

func TestHandleRPC_RememberApprovalRule(t *testing.T) {
	state, _, _ := newTestState(t)
	dir := t.TempDir()
	info, err := state.AddWorkspace(dir, "", "v")
	require.NoError(t, err)

	// No .codex directory yet.
	_, err = callRPC(t, state, "remember_approval_rule",
		`{"workspaceId":"`+info.ID+`","command":["npm","test"]}`)
	require.Error(t, err)
	assert.Equal(t, "Unable to resolve CODEX_HOME", err.Error())

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".codex"), 0755))
	result, err := callRPC(t, state, "remember_approval_rule",
		`{"workspaceId":"`+info.ID+`","command":[" npm ","test",""]}`)
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
	assert.Contains(t, m["rulesPath"], "approved_commands.jsonl")

	_, err = callRPC(t, state, "remember_approval_rule",
		`{"workspaceId":"`+info.ID+`","command":["  "]}`)
	require.Error(t, err)
	assert.Equal(t, "empty command", err.Error())
}

func TestHandleRPC_ReadWorkspaceFileErrors(t *testing.T) {
	state, _, _ := newTestState(t)
	_, err := callRPC(t, state, "read_workspace_file", `{"workspaceId":"nope","path":"x"}`)
	require.Error(t, err)
	assert.Equal(t, "workspace not found", err.Error())
}
