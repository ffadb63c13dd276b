// Package streaminghttp implements the MCP streaming HTTP transport. It
// mounts as a standard net/http handler: clients POST one JSON-RPC message
// per request body, GET a Server-Sent Events stream for server-pushed
// notifications, and DELETE to tear the session down.
//
// Responsibilities
//   - Session creation on initialize and lookup via the Mcp-Session-Id header
//   - Content negotiation (application/json in, JSON or SSE out)
//   - Resource-updated fan-out: one SSE event per subscribed client when a
//     fresh war snapshot lands
//
// Transport-level rejections map to HTTP status codes; everything
// protocol-shaped becomes a JSON-RPC response produced by the dispatcher.
//
// Example (mount in net/http):
//
//	h, err := streaminghttp.New("/mcp", eng)
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
