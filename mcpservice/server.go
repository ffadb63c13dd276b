package mcpservice

import (
	"github.com/galactic-tools/warwatch/mcp"
)

// Server bundles the identity and registries the dispatcher serves. It is
// immutable after construction.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        *ToolsRegistry
	resources    *ResourcesRegistry
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInfo sets the implementation info surfaced during initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets the human-readable instructions returned during
// initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// WithToolsRegistry wires the tools registry.
func WithToolsRegistry(r *ToolsRegistry) ServerOption {
	return func(s *Server) { s.tools = r }
}

// WithResourcesRegistry wires the resources registry.
func WithResourcesRegistry(r *ResourcesRegistry) ServerOption {
	return func(s *Server) { s.resources = r }
}

// NewServer builds a Server from functional options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info returns the server identity.
func (s *Server) Info() mcp.ImplementationInfo { return s.info }

// Instructions returns the initialize instructions, or "".
func (s *Server) Instructions() string { return s.instructions }

// Tools returns the tools registry, or nil when the server has none.
func (s *Server) Tools() *ToolsRegistry { return s.tools }

// Resources returns the resources registry, or nil when the server has none.
func (s *Server) Resources() *ResourcesRegistry { return s.resources }

// Capabilities describes what this server advertises during initialize.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	caps := mcp.ServerCapabilities{}
	if s.tools != nil {
		caps.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: false}
	}
	if s.resources != nil {
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{ListChanged: false, Subscribe: false}
	}
	return caps
}
