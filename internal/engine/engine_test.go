package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/galactic-tools/warwatch/internal/jsonrpc"
	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/mcpservice"
	"github.com/galactic-tools/warwatch/sessions"
)

type echoArgs struct {
	Text string `json:"text"`
}

func testEngine(t *testing.T) *Engine {
	t.Helper()

	echo := mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		return w.AppendText(r.Args().Text)
	})
	boom := mcpservice.NewTool[struct{}]("boom", func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		panic("kaboom")
	})
	unavailable := mcpservice.NewTool[struct{}]("unavailable", func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeUpstreamUnavailable, Message: "no data yet"}
	})

	tools, err := mcpservice.NewToolsRegistry(echo, boom, unavailable)
	if err != nil {
		t.Fatalf("tools registry: %v", err)
	}

	resources, err := mcpservice.NewResourcesRegistry([]mcpservice.StaticResource{{
		Descriptor: mcp.Resource{URI: "test://thing", Name: "thing"},
		Provider: func(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{{URI: uri, Text: "contents"}}, nil
		},
	}}, nil)
	if err != nil {
		t.Fatalf("resources registry: %v", err)
	}

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test-server", Version: "0.0.1"}),
		mcpservice.WithToolsRegistry(tools),
		mcpservice.WithResourcesRegistry(resources),
	)
	return New(srv)
}

func request(t *testing.T, id int, method string, params any) *jsonrpc.AnyMessage {
	t.Helper()
	msg := &jsonrpc.AnyMessage{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         method,
		ID:             jsonrpc.NewRequestID(id),
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		msg.Params = b
	}
	return msg
}

func notification(method string) *jsonrpc.AnyMessage {
	return &jsonrpc.AnyMessage{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method}
}

// initialized drives a session through the full handshake.
func initialized(t *testing.T, eng *Engine) *sessions.Session {
	t.Helper()
	sess := sessions.New()
	ctx := context.Background()

	res := eng.HandleMessage(ctx, sess, request(t, 1, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
	}))
	if res == nil || res.Error != nil {
		t.Fatalf("initialize failed: %+v", res)
	}
	if eng.HandleMessage(ctx, sess, notification(string(mcp.InitializedNotificationMethod))) != nil {
		t.Fatal("notification produced a response")
	}
	if sess.State() != sessions.StateReady {
		t.Fatalf("state after handshake = %q", sess.State())
	}
	return sess
}

func TestInitializeHandshake(t *testing.T) {
	eng := testEngine(t)
	sess := sessions.New()
	ctx := context.Background()

	res := eng.HandleMessage(ctx, sess, request(t, 1, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
	}))
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}

	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Errorf("protocolVersion = %q", initRes.ProtocolVersion)
	}
	if initRes.ServerInfo.Name != "test-server" {
		t.Errorf("serverInfo = %+v", initRes.ServerInfo)
	}
	if initRes.Capabilities.Tools == nil || initRes.Capabilities.Resources == nil {
		t.Errorf("capabilities = %+v", initRes.Capabilities)
	}
	// Only implemented capabilities are advertised; there is no logging
	// surface in the dispatcher.
	if initRes.Capabilities.Logging != nil {
		t.Errorf("logging capability advertised without an implementation")
	}
	if sess.State() != sessions.StateInitializing {
		t.Errorf("state = %q, want initializing until the client confirms", sess.State())
	}
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	eng := testEngine(t)
	sess := sessions.New()

	res := eng.HandleMessage(context.Background(), sess, request(t, 1, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: "1999-12-31",
	}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeUnsupportedVersion {
		t.Fatalf("error = %+v, want code %d", res.Error, jsonrpc.ErrorCodeUnsupportedVersion)
	}
	if sess.State() != sessions.StateUninitialized {
		t.Errorf("failed handshake must not advance the session: %q", sess.State())
	}
}

func TestRequestsBeforeInitializeRejected(t *testing.T) {
	eng := testEngine(t)
	sess := sessions.New()

	res := eng.HandleMessage(context.Background(), sess, request(t, 1, string(mcp.ToolsListMethod), nil))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeNotInitialized {
		t.Fatalf("error = %+v, want code %d", res.Error, jsonrpc.ErrorCodeNotInitialized)
	}
}

func TestPingAnsweredInAnyState(t *testing.T) {
	eng := testEngine(t)
	sess := sessions.New()

	res := eng.HandleMessage(context.Background(), sess, request(t, 1, string(mcp.PingMethod), nil))
	if res == nil || res.Error != nil {
		t.Fatalf("ping before initialize = %+v", res)
	}
}

func TestToolsListAndCall(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)
	ctx := context.Background()

	res := eng.HandleMessage(ctx, sess, request(t, 2, string(mcp.ToolsListMethod), nil))
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tools) != 3 {
		t.Errorf("tools = %d, want 3", len(list.Tools))
	}

	res = eng.HandleMessage(ctx, sess, request(t, 3, string(mcp.ToolsCallMethod), mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"for liberty"}`),
	}))
	if res.Error != nil {
		t.Fatalf("call error: %+v", res.Error)
	}
	var call mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &call); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(call.Content) != 1 || call.Content[0].Text != "for liberty" {
		t.Errorf("content = %+v", call.Content)
	}
}

func TestUnknownToolAndBadArguments(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)
	ctx := context.Background()

	res := eng.HandleMessage(ctx, sess, request(t, 2, string(mcp.ToolsCallMethod), mcp.CallToolRequest{Name: "nope"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeUnknownTool {
		t.Errorf("unknown tool error = %+v", res.Error)
	}

	res = eng.HandleMessage(ctx, sess, request(t, 3, string(mcp.ToolsCallMethod), mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"x","extra":1}`),
	}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("bad args error = %+v", res.Error)
	}
	data, ok := res.Error.Data.(map[string]any)
	if !ok || data["field"] != "extra" {
		t.Errorf("error data = %+v, want field=extra", res.Error.Data)
	}
}

func TestPanicCostsOneRequestNotTheSession(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)
	ctx := context.Background()

	res := eng.HandleMessage(ctx, sess, request(t, 2, string(mcp.ToolsCallMethod), mcp.CallToolRequest{Name: "boom"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInternalError {
		t.Fatalf("panic error = %+v", res.Error)
	}
	if res.Error.Message != "internal server error" {
		t.Errorf("panic detail leaked: %q", res.Error.Message)
	}

	// The session must still work.
	res = eng.HandleMessage(ctx, sess, request(t, 3, string(mcp.ToolsCallMethod), mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"still here"}`),
	}))
	if res.Error != nil {
		t.Errorf("session broken after panic: %+v", res.Error)
	}
}

func TestTypedRPCErrorPassthrough(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)

	res := eng.HandleMessage(context.Background(), sess, request(t, 2, string(mcp.ToolsCallMethod), mcp.CallToolRequest{Name: "unavailable"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeUpstreamUnavailable {
		t.Fatalf("error = %+v, want code %d", res.Error, jsonrpc.ErrorCodeUpstreamUnavailable)
	}
	if res.Error.Message != "no data yet" {
		t.Errorf("message = %q, typed errors pass through verbatim", res.Error.Message)
	}
}

func TestResourcesReadAndUnknown(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)
	ctx := context.Background()

	res := eng.HandleMessage(ctx, sess, request(t, 2, string(mcp.ResourcesReadMethod), mcp.ReadResourceRequest{URI: "test://thing"}))
	if res.Error != nil {
		t.Fatalf("read error: %+v", res.Error)
	}
	var read mcp.ReadResourceResult
	if err := json.Unmarshal(res.Result, &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != "contents" {
		t.Errorf("contents = %+v", read.Contents)
	}

	res = eng.HandleMessage(ctx, sess, request(t, 3, string(mcp.ResourcesReadMethod), mcp.ReadResourceRequest{URI: "test://missing"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeUnknownResource {
		t.Errorf("unknown resource error = %+v", res.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)

	res := eng.HandleMessage(context.Background(), sess, request(t, 2, "prompts/list", nil))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Errorf("error = %+v", res.Error)
	}
}

func TestDoubleInitializeRejected(t *testing.T) {
	eng := testEngine(t)
	sess := initialized(t, eng)

	res := eng.HandleMessage(context.Background(), sess, request(t, 9, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
	}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Errorf("second initialize = %+v", res.Error)
	}
}
