package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Server-defined error codes in the JSON-RPC implementation-defined range.
// These carry the error taxonomy the dispatcher exposes to clients.
const (
	// ErrorCodeNotInitialized rejects requests received before the
	// initialize handshake completed on the session.
	ErrorCodeNotInitialized ErrorCode = -32002
	// ErrorCodeUnsupportedVersion rejects initialize requests for protocol
	// revisions the server cannot speak.
	ErrorCodeUnsupportedVersion ErrorCode = -32003
	// ErrorCodeUnknownTool rejects tools/call for unregistered tool names.
	ErrorCodeUnknownTool ErrorCode = -32004
	// ErrorCodeUnknownResource rejects resources/read for URIs no provider matches.
	ErrorCodeUnknownResource ErrorCode = -32005
	// ErrorCodeUpstreamUnavailable is returned only when no upstream
	// snapshot has ever been obtained.
	ErrorCodeUpstreamUnavailable ErrorCode = -32010
)
