// Package mcp contains the wire types for the subset of the Model Context
// Protocol that warwatch implements: the initialize handshake, ping, tool
// listing and invocation, resource listing and reads, and the small set of
// server-initiated notifications the transports can emit.
//
// These are plain structs with JSON tags; nothing in this package performs
// I/O or holds state. The JSON-RPC envelope that carries them lives in
// internal/jsonrpc, and the dispatch rules live in internal/engine.
package mcp
