package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/mcp"
)

type stubTool struct {
	name   string
	result *mcp.ToolsCallResult
	err    error
}

func (s *stubTool) Name() string                     { return s.name }
func (s *stubTool) Description() string              { return "a stub tool" }
func (s *stubTool) InputSchema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	return s.result, s.err
}

func newTestServer(t *testing.T, tools ...mcp.Tool) *mcp.Server {
	t.Helper()
	reg := mcp.NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mcp.NewServer(reg, mcp.ServerInfo{Name: "test", Version: "0.0.0"}, logger)
}

func TestServer_HandleMessage_Initialize(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*mcp.InitializeResult)
	require.True(t, ok)
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)
}

func TestServer_HandleMessage_ToolsList(t *testing.T) {
	s := newTestServer(t, &stubTool{name: "echo"})

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	require.NotNil(t, resp)
	result, ok := resp.Result.(*mcp.ToolsListResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestServer_HandleMessage_ToolsCall_Success(t *testing.T) {
	want := &mcp.ToolsCallResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ok"}}}
	s := newTestServer(t, &stubTool{name: "echo", result: want})

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`))

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*mcp.ToolsCallResult)
	require.True(t, ok)
	assert.Equal(t, want, result)
}

func TestServer_HandleMessage_ToolsCall_UnknownTool(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"missing","arguments":{}}}`))

	require.NotNil(t, resp)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestServer_HandleMessage_UnknownMethod(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"nope"}`))

	require.NotNil(t, resp)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestServer_HandleMessage_ParseError(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`not json`))

	require.NotNil(t, resp)
	assert.Equal(t, mcp.ErrCodeParse, resp.Error.Code)
}

func TestServer_HandleMessage_NotificationGetsNoResponse(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))

	assert.Nil(t, resp)
}
