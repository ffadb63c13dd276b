// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It frames JSON-RPC messages one per line and owns exactly
// one session for the life of the process, which makes it the right fit for
// being spawned as a subprocess by an MCP client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : one, created at startup, torn down at EOF
//	Transport        : newline-delimited JSON-RPC
//
// With a change subscriber attached, the handler pushes
// notifications/resources/updated lines whenever a fresh war snapshot
// replaces the cached one.
package stdio
