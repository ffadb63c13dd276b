// Package engine implements the transport-agnostic dispatcher. Transports
// normalize bytes into jsonrpc.AnyMessage values and hand them to
// HandleMessage; everything protocol-shaped happens here: the session state
// machine, protocol version negotiation, routing to the registries, and the
// mapping of failures onto the JSON-RPC error taxonomy. A handler failure
// never takes down a session: panics and unexpected errors become
// internal-error responses on the same request ID.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/galactic-tools/warwatch/internal/jsonrpc"
	"github.com/galactic-tools/warwatch/internal/logctx"
	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/mcpservice"
	"github.com/galactic-tools/warwatch/sessions"
)

// Engine routes normalized messages for any number of sessions. It holds no
// per-session state itself; ordering within a session is enforced by the
// transports via sessions.Session.Ingest.
type Engine struct {
	srv *mcpservice.Server
	log *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New constructs an Engine serving the given server definition.
func New(srv *mcpservice.Server, opts ...Option) *Engine {
	e := &Engine{srv: srv, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage dispatches one normalized message on a session. For requests
// it always returns exactly one response carrying the request's ID; for
// notifications it returns nil. Client-originated responses are not part of
// this server's protocol subset and are ignored.
func (e *Engine) HandleMessage(ctx context.Context, sess *sessions.Session, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	switch msg.Type() {
	case "request":
		res := e.handleRequest(ctx, sess, msg.AsRequest())
		if res.Error != nil {
			e.log.InfoContext(ctx, "rpc.inbound.err",
				slog.Int("code", int(res.Error.Code)),
				slog.String("msg", res.Error.Message))
		} else {
			e.log.DebugContext(ctx, "rpc.inbound.ok")
		}
		return res
	case "notification":
		if err := e.handleNotification(ctx, sess, msg.AsRequest()); err != nil {
			e.log.WarnContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
		}
		return nil
	default:
		e.log.DebugContext(ctx, "rpc.response.ignored")
		return nil
	}
}

func (e *Engine) handleNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) error {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		return sess.CompleteInitialize()
	case mcp.CancelledNotificationMethod:
		// Requests are handled synchronously per session, so by the time a
		// cancellation arrives the request it names has already been
		// answered. Acknowledge by ignoring.
		return nil
	default:
		e.log.DebugContext(ctx, "notification.unknown", slog.String("method", req.Method))
		return nil
	}
}

func (e *Engine) handleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	method := mcp.Method(req.Method)

	// ping is answerable in any session state.
	if method == mcp.PingMethod {
		return e.result(req.ID, &mcp.EmptyResult{})
	}

	if method == mcp.InitializeMethod {
		return e.handleInitialize(ctx, sess, req)
	}

	if sess.State() != sessions.StateReady {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeNotInitialized,
			"session not initialized", map[string]any{"state": string(sess.State())})
	}

	switch method {
	case mcp.ToolsListMethod:
		return e.handleListTools(ctx, sess, req)
	case mcp.ToolsCallMethod:
		return e.handleCallTool(ctx, sess, req)
	case mcp.ResourcesListMethod:
		return e.handleListResources(ctx, sess, req)
	case mcp.ResourcesTemplatesListMethod:
		return e.handleListResourceTemplates(ctx, sess, req)
	case mcp.ResourcesReadMethod:
		return e.handleReadResource(ctx, sess, req)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (e *Engine) handleInitialize(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				"invalid initialize params: "+err.Error(), nil)
		}
	}

	if !mcp.IsSupportedProtocolVersion(initReq.ProtocolVersion) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnsupportedVersion,
			fmt.Sprintf("unsupported protocol version %q", initReq.ProtocolVersion),
			map[string]any{"supported": mcp.SupportedProtocolVersions})
	}

	if err := sess.BeginInitialize(initReq.ProtocolVersion, initReq.ClientInfo, initReq.Capabilities); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil)
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: initReq.ProtocolVersion,
		Capabilities:    e.srv.Capabilities(),
		ServerInfo:      e.srv.Info(),
		Instructions:    e.srv.Instructions(),
	}
	e.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("client", initReq.ClientInfo.Name),
		slog.String("protocol_version", initReq.ProtocolVersion))
	return e.result(req.ID, res)
}

func (e *Engine) handleListTools(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	tools := e.srv.Tools()
	if tools == nil {
		return e.result(req.ID, &mcp.ListToolsResult{Tools: []mcp.Tool{}})
	}
	return e.result(req.ID, &mcp.ListToolsResult{Tools: tools.List()})
}

func (e *Engine) handleCallTool(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (res *jsonrpc.Response) {
	var callReq mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &callReq); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			"invalid tools/call params: "+err.Error(), nil)
	}

	// A panicking handler must cost one request, not the session.
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "tool.call.panic",
				slog.String("tool", callReq.Name),
				slog.Any("panic", r))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError,
				"internal server error", nil)
		}
	}()

	tools := e.srv.Tools()
	if tools == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnknownTool,
			fmt.Sprintf("unknown tool %q", callReq.Name), nil)
	}

	result, err := tools.Call(ctx, sess, &callReq)
	if err != nil {
		return e.errorResponse(ctx, req.ID, callReq.Name, err)
	}
	return e.result(req.ID, result)
}

func (e *Engine) handleListResources(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	resources := e.srv.Resources()
	if resources == nil {
		return e.result(req.ID, &mcp.ListResourcesResult{Resources: []mcp.Resource{}})
	}
	return e.result(req.ID, &mcp.ListResourcesResult{Resources: resources.List()})
}

func (e *Engine) handleListResourceTemplates(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	resources := e.srv.Resources()
	if resources == nil {
		return e.result(req.ID, &mcp.ListResourceTemplatesResult{ResourceTemplates: []mcp.ResourceTemplate{}})
	}
	return e.result(req.ID, &mcp.ListResourceTemplatesResult{ResourceTemplates: resources.ListTemplates()})
}

func (e *Engine) handleReadResource(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (res *jsonrpc.Response) {
	var readReq mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &readReq); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			"invalid resources/read params: "+err.Error(), nil)
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "resource.read.panic",
				slog.String("uri", readReq.URI),
				slog.Any("panic", r))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError,
				"internal server error", nil)
		}
	}()

	resources := e.srv.Resources()
	if resources == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnknownResource,
			fmt.Sprintf("unknown resource %q", readReq.URI), nil)
	}

	contents, err := resources.Read(ctx, sess, readReq.URI)
	if err != nil {
		return e.errorResponse(ctx, req.ID, readReq.URI, err)
	}
	return e.result(req.ID, &mcp.ReadResourceResult{Contents: contents})
}

// errorResponse maps handler and registry failures onto the wire taxonomy.
// Typed errors keep their codes; anything unanticipated is logged and
// flattened to a generic internal error so details never leak to clients.
func (e *Engine) errorResponse(ctx context.Context, id *jsonrpc.RequestID, subject string, err error) *jsonrpc.Response {
	var argErr *mcpservice.ArgumentError
	switch {
	case errors.Is(err, mcpservice.ErrUnknownTool):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeUnknownTool, err.Error(), nil)
	case errors.Is(err, mcpservice.ErrUnknownResource):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeUnknownResource, err.Error(), nil)
	case errors.As(err, &argErr):
		var data map[string]any
		if argErr.Field != "" {
			data = map[string]any{"field": argErr.Field}
		}
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, argErr.Error(), data)
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr, ID: id}
	}

	e.log.ErrorContext(ctx, "handler.fail",
		slog.String("subject", subject),
		slog.String("err", err.Error()))
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
}

func (e *Engine) result(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError,
			"failed to encode response", nil)
	}
	return res
}
