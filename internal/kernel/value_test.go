package kernel

import (
	"encoding/json"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func TestToStarlark(t *testing.T) {
	type point struct {
		X      int
		hidden int
	}

	testCases := []struct {
		name     string
		input    any
		expected starlark.Value
	}{
		{"nil", nil, starlark.None},
		{"bool", true, starlark.True},
		{"string", "hello", starlark.String("hello")},
		{"int", 42, starlark.MakeInt(42)},
		{"int32", int32(7), starlark.MakeInt(7)},
		{"float", 1.5, starlark.Float(1.5)},
		{"json int", json.Number("12"), starlark.MakeInt(12)},
		{"json float", json.Number("1.25"), starlark.Float(1.25)},
		{"already starlark", starlark.String("s"), starlark.String("s")},
		{"[]any", []any{1, "a"}, starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.String("a")})},
		{"[]string", []string{"a", "b"}, starlark.NewList([]starlark.Value{starlark.String("a"), starlark.String("b")})},
		{"map", map[string]any{"k": 1}, func() starlark.Value {
			d := starlark.NewDict(1)
			_ = d.SetKey(starlark.String("k"), starlark.MakeInt(1))
			return d
		}()},
		{"struct", point{X: 3, hidden: 4}, func() starlark.Value {
			d := starlark.NewDict(1)
			_ = d.SetKey(starlark.String("X"), starlark.MakeInt(3))
			return d
		}()},
		{"nil pointer", (*point)(nil), starlark.None},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ToStarlark(tc.input)
			if err != nil {
				t.Fatalf("ToStarlark: %v", err)
			}
			equal, err := starlark.Equal(actual, tc.expected)
			if err != nil {
				t.Fatalf("comparison failed: %v", err)
			}
			if !equal {
				t.Errorf("ToStarlark(%#v) = %v, want %v", tc.input, actual, tc.expected)
			}
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		if _, err := ToStarlark(make(chan bool)); err == nil {
			t.Error("expected error for channel")
		}
	})
}

func TestExportSkipsCallables(t *testing.T) {
	list := starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.String("two")})
	ns := Namespace{
		"n":     starlark.MakeInt(5),
		"items": list,
		"fn":    starlark.NewBuiltin("fn", nil),
		"plain": "go value",
	}

	data, skipped, err := Export(ns)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "fn" {
		t.Errorf("skipped = %v, want [fn]", skipped)
	}
	if data["n"] != int64(5) {
		t.Errorf("n = %#v", data["n"])
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 2 || items[1] != "two" {
		t.Errorf("items = %#v", data["items"])
	}
	if data["plain"] != "go value" {
		t.Errorf("plain = %#v", data["plain"])
	}
}

func TestExportRejectsNonStringDictKeys(t *testing.T) {
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.MakeInt(1), starlark.True)
	if _, _, err := Export(Namespace{"d": d}); err == nil {
		t.Error("expected error for int dict key")
	}
}

func TestImportNormalizesNumbers(t *testing.T) {
	var data map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"i": 3, "f": 0.5, "l": [1, 2.5]}`))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		t.Fatal(err)
	}

	ns := Import(data)
	if ns["i"] != int64(3) {
		t.Errorf("i = %#v, want int64(3)", ns["i"])
	}
	if ns["f"] != 0.5 {
		t.Errorf("f = %#v, want 0.5", ns["f"])
	}
	l := ns["l"].([]any)
	if l[0] != int64(1) || l[1] != 2.5 {
		t.Errorf("l = %#v", l)
	}
}
