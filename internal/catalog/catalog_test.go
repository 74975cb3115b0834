package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func noop(context.Context, Args) (interface{}, error) { return nil, nil }

func desc(name string, cat Category) Descriptor {
	return Descriptor{Name: name, Description: name + " op", Category: cat, Handler: noop}
}

func TestBuildPreservesRegistrationOrder(t *testing.T) {
	c, err := NewBuilder().
		Add(desc("list_voices", CategorySafe)).
		Add(desc("create_agent", CategoryAdmin), desc("delete_voice", CategoryDestructive)).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"list_voices", "create_agent", "delete_voice"}
	if diff := cmp.Diff(want, c.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 operations, got %d", c.Len())
	}

	d, ok := c.Lookup("create_agent")
	if !ok || d.Category != CategoryAdmin {
		t.Fatalf("expected create_agent as admin, got %+v (found=%v)", d, ok)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Fatal("expected lookup of unknown name to fail")
	}
}

func TestBuildRejectsInvalidDescriptors(t *testing.T) {
	tests := []struct {
		name    string
		descs   []Descriptor
		wantErr string
	}{
		{
			name:    "duplicate name",
			descs:   []Descriptor{desc("get_voice", CategorySafe), desc("get_voice", CategoryAdmin)},
			wantErr: `duplicate operation "get_voice"`,
		},
		{
			name:    "empty name",
			descs:   []Descriptor{desc("  ", CategorySafe)},
			wantErr: "empty name",
		},
		{
			name:    "unknown category",
			descs:   []Descriptor{desc("x", Category("risky"))},
			wantErr: "unknown category",
		},
		{
			name:    "nil handler",
			descs:   []Descriptor{{Name: "x", Category: CategorySafe}},
			wantErr: "nil handler",
		},
		{
			name: "duplicate parameter",
			descs: []Descriptor{{
				Name: "x", Category: CategorySafe, Handler: noop,
				Params: []Param{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeInteger}},
			}},
			wantErr: `duplicate parameter "a"`,
		},
		{
			name: "enum on integer",
			descs: []Descriptor{{
				Name: "x", Category: CategorySafe, Handler: noop,
				Params: []Param{{Name: "n", Type: TypeInteger, Enum: []string{"1"}}},
			}},
			wantErr: "enum on non-string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder().Add(tt.descs...).Build()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestMustBuildPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewBuilder().Add(desc("a", CategorySafe), desc("a", CategorySafe)).MustBuild()
}

func TestListReturnsCopy(t *testing.T) {
	c := NewBuilder().Add(desc("a", CategorySafe)).MustBuild()
	list := c.List()
	list[0].Name = "mutated"
	if d, _ := c.Lookup("a"); d.Name != "a" {
		t.Fatal("catalog must not be mutated through List")
	}
}

func TestInputSchema(t *testing.T) {
	d := Descriptor{
		Name: "text_to_speech", Category: CategorySafe, Handler: noop,
		Params: []Param{
			{Name: "text", Type: TypeString, Required: true, Description: "Text to speak"},
			{Name: "output_format", Type: TypeString, Enum: []string{"mp3_44100_128", "pcm_16000"}, Default: "mp3_44100_128"},
			{Name: "tags", Type: TypeArray},
		},
	}

	schema := d.InputSchema()
	if schema["type"] != "object" {
		t.Fatalf("expected object schema, got %v", schema["type"])
	}
	if diff := cmp.Diff([]string{"text"}, schema["required"]); diff != "" {
		t.Fatalf("required mismatch (-want +got):\n%s", diff)
	}
	props := schema["properties"].(map[string]interface{})
	format := props["output_format"].(map[string]interface{})
	if format["default"] != "mp3_44100_128" {
		t.Fatalf("expected default to be rendered, got %v", format["default"])
	}
	tags := props["tags"].(map[string]interface{})
	if _, ok := tags["items"]; !ok {
		t.Fatal("expected array parameter to declare items")
	}
}

func TestOpenAITools(t *testing.T) {
	c := NewBuilder().Add(desc("list_models", CategorySafe)).MustBuild()
	defs := OpenAITools(c.List())
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Function.Name != "list_models" {
		t.Fatalf("expected list_models, got %s", defs[0].Function.Name)
	}
}

func TestArgsGetters(t *testing.T) {
	args := Args{
		"name":   "Rachel",
		"count":  float64(3),
		"ratio":  0.5,
		"flag":   true,
		"labels": []interface{}{"a", "b"},
		"csv":    "x, y,,z",
	}

	if args.String("name") != "Rachel" {
		t.Fatal("unexpected string value")
	}
	if n, ok := args.Int("count"); !ok || n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	if f, ok := args.Float("ratio"); !ok || f != 0.5 {
		t.Fatalf("expected 0.5, got %v", f)
	}
	if b, ok := args.Bool("flag"); !ok || !b {
		t.Fatal("expected true flag")
	}
	if diff := cmp.Diff([]string{"a", "b"}, args.Strings("labels")); diff != "" {
		t.Fatalf("labels mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "y", "z"}, args.Strings("csv")); diff != "" {
		t.Fatalf("csv mismatch:\n%s", diff)
	}
	if args.Has("missing") {
		t.Fatal("expected missing argument")
	}
}
