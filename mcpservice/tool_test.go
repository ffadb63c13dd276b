package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/sessions"
)

type greetArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Who to greet"`
	Shout bool   `json:"shout,omitempty"`
}

func greetTool() StaticTool {
	return NewTool[greetArgs]("greet", func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[greetArgs]) error {
		return w.AppendText("hello " + r.Args().Name)
	}, WithToolDescription("Greets by name."))
}

func TestNewToolSchemaReflection(t *testing.T) {
	tool := greetTool()

	if tool.Descriptor.Name != "greet" || tool.Descriptor.Description != "Greets by name." {
		t.Errorf("descriptor = %+v", tool.Descriptor)
	}

	schema := tool.Descriptor.InputSchema
	if schema.Type != "object" {
		t.Errorf("schema type = %q", schema.Type)
	}
	name, ok := schema.Properties["name"]
	if !ok {
		t.Fatalf("schema missing name property: %+v", schema.Properties)
	}
	if name.Type != "string" || name.Description != "Who to greet" {
		t.Errorf("name property = %+v", name)
	}
	if _, ok := schema.Properties["shout"]; !ok {
		t.Error("schema missing shout property")
	}

	foundRequired := false
	for _, r := range schema.Required {
		if r == "name" {
			foundRequired = true
		}
	}
	if !foundRequired {
		t.Errorf("required = %v, want to contain name", schema.Required)
	}
}

func TestToolStrictArgumentDecoding(t *testing.T) {
	tool := greetTool()
	sess := sessions.New()
	ctx := context.Background()

	res, err := tool.Handler(ctx, sess, &mcp.CallToolRequest{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"helldiver"}`),
	})
	if err != nil {
		t.Fatalf("valid args: %v", err)
	}
	if res.Content[0].Text != "hello helldiver" {
		t.Errorf("content = %+v", res.Content)
	}

	cases := []struct {
		name      string
		args      string
		wantField string
	}{
		{"unknown field", `{"name":"x","bogus":true}`, "bogus"},
		{"wrong type", `{"name":7}`, "name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tool.Handler(ctx, sess, &mcp.CallToolRequest{
				Name:      "greet",
				Arguments: json.RawMessage(tc.args),
			})
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("want *ArgumentError, got %T: %v", err, err)
			}
			if argErr.Field != tc.wantField {
				t.Errorf("Field = %q, want %q", argErr.Field, tc.wantField)
			}
		})
	}
}

func TestUnnamedArgTypesReflectToEmptyObjectSchema(t *testing.T) {
	// struct{} and anonymous structs have no type name, which the reflector's
	// expanded-struct mode cannot handle. They must fall back to an empty
	// object schema instead of panicking at construction time.
	tool := NewToolWithOutput[struct{}, struct{ N int }]("nullary", func(ctx context.Context, session *sessions.Session, w ToolResponseWriterTyped[struct{ N int }], r *ToolRequest[struct{}]) error {
		return nil
	})
	in := tool.Descriptor.InputSchema
	if in.Type != "object" || len(in.Properties) != 0 || len(in.Required) != 0 {
		t.Errorf("input schema = %+v, want empty object", in)
	}
	out := tool.Descriptor.OutputSchema
	if out == nil || out.Type != "object" || len(out.Properties) != 0 {
		t.Errorf("output schema = %+v, want empty object", out)
	}
}

func TestToolEmptyArgsAllowed(t *testing.T) {
	tool := NewTool[struct{}]("nullary", func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		return w.AppendText("ran")
	})
	res, err := tool.Handler(context.Background(), sessions.New(), &mcp.CallToolRequest{Name: "nullary"})
	if err != nil {
		t.Fatalf("nil args: %v", err)
	}
	if res.Content[0].Text != "ran" {
		t.Errorf("content = %+v", res.Content)
	}
}

type countOut struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

func TestNewToolWithOutput(t *testing.T) {
	tool := NewToolWithOutput[struct{}, countOut]("count", func(ctx context.Context, session *sessions.Session, w ToolResponseWriterTyped[countOut], r *ToolRequest[struct{}]) error {
		w.SetStructured(countOut{Count: 3, Label: "planets"})
		w.SetMeta("stale", true)
		return w.AppendText("3 planets")
	})

	if tool.Descriptor.OutputSchema == nil {
		t.Fatal("output schema missing")
	}
	if _, ok := tool.Descriptor.OutputSchema.Properties["count"]; !ok {
		t.Errorf("output schema properties = %+v", tool.Descriptor.OutputSchema.Properties)
	}

	res, err := tool.Handler(context.Background(), sessions.New(), &mcp.CallToolRequest{Name: "count"})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if res.StructuredContent == nil {
		t.Fatal("structuredContent missing")
	}
	if got := res.StructuredContent["count"]; got != float64(3) {
		t.Errorf("structured count = %v (%T)", got, got)
	}
	if res.Meta["stale"] != true {
		t.Errorf("meta = %+v", res.Meta)
	}
}

func TestToolResponseWriterFinalization(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	if err := w.AppendText("first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = w.Result()
	if err := w.AppendText("late"); !errors.Is(err, ErrFinalized) {
		t.Errorf("append after Result = %v, want ErrFinalized", err)
	}
}

func TestToolResponseWriterHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newToolResponseWriter(ctx)
	if err := w.AppendText("x"); err == nil {
		t.Error("append on canceled context should fail")
	}
}
