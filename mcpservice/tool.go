package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/sessions"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for decoded tool call input. It is generic
// over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description string
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// NewTool constructs a StaticTool from a typed args struct A. The input
// schema is reflected from A, and arguments are decoded strictly at call
// time: decode failures become *ArgumentError, which the dispatcher maps to
// an invalid-arguments response without running fn.
func NewTool[A any](name string, fn func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](),
	}

	handler := func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := decodeArgs[A](name, req.Arguments)
		if err != nil {
			return nil, err
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// NewToolWithOutput constructs a typed-input, typed-output tool. The output
// schema is reflected from O and the handler's structured value is attached
// to the result as structuredContent.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, session *sessions.Session, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	outSchema := reflectOutputSchema[O]()
	desc := mcp.Tool{
		Name:         name,
		Description:  cfg.description,
		InputSchema:  reflectInputSchema[A](),
		OutputSchema: &outSchema,
	}

	handler := func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := decodeArgs[A](name, req.Arguments)
		if err != nil {
			return nil, err
		}
		base := newToolResponseWriter(ctx)
		tw := &toolResponseWriterTyped[O]{ToolResponseWriter: base}
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, tw, r); err != nil {
			return nil, err
		}
		res := base.Result()
		if tw.structured != nil {
			b, err := json.Marshal(tw.structured)
			if err == nil {
				var m map[string]any
				if err2 := json.Unmarshal(b, &m); err2 == nil {
					res.StructuredContent = m
				}
			}
		}
		return res, nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// decodeArgs strictly decodes raw arguments into A, rejecting unknown fields.
func decodeArgs[A any](tool string, raw json.RawMessage) (A, error) {
	var a A
	if len(raw) == 0 {
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return a, &ArgumentError{Tool: tool, Field: fieldFromDecodeError(err), Detail: err.Error()}
	}
	return a, nil
}

// fieldFromDecodeError extracts the offending field name from a json decode
// error where the standard library exposes one.
func fieldFromDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field
	}
	// encoding/json reports unknown fields as: json: unknown field "name"
	msg := err.Error()
	if i := strings.Index(msg, `unknown field "`); i >= 0 {
		rest := msg[i+len(`unknown field "`):]
		if j := strings.IndexByte(rest, '"'); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}

// reflectable reports whether T can go through the reflector's
// expanded-struct path. Unnamed types (struct{}, anonymous structs) have no
// definition entry there and would crash the reflector.
func reflectable[T any]() bool {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name() != ""
}

// reflectInputSchema reflects a Go type A into the simplified MCP tool input
// schema. Non-object and unnamed shapes collapse to an empty strict object.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	if !reflectable[A]() {
		return mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]mcp.SchemaProperty{},
		}
	}
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]mcp.SchemaProperty{},
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// reflectOutputSchema reflects a Go type O into an MCP tool output schema.
func reflectOutputSchema[O any]() mcp.ToolOutputSchema {
	if !reflectable[O]() {
		return mcp.ToolOutputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(O))
	if s == nil || s.Type != "object" {
		return mcp.ToolOutputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolOutputSchema{Type: "object", Properties: props, Required: required}
}

// toSchemaProperty recursively maps a jsonschema.Schema node to the
// simplified MCP property shape.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// TextResult builds a single-text-block CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}
