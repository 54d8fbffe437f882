package tagpatch

import "testing"

func TestPatchSetsAndRemoves(t *testing.T) {
	in := `{"name":"Old Name","phone":"123"}`
	out, err := Patch(in, map[string]any{
		"name":  "New Name",
		"phone": nil,
		"extra": map[string]any{"nested": true},
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	name, ok := GetKey(out, "name")
	if !ok || name != `"New Name"` {
		t.Fatalf("name = %q, %v", name, ok)
	}
	if _, ok := GetKey(out, "phone"); ok {
		t.Fatalf("phone should have been removed, got present")
	}
	extra, ok := GetKey(out, "extra")
	if !ok || extra != `{"nested":true}` {
		t.Fatalf("extra = %q, %v", extra, ok)
	}
}

func TestPatchNoRecursionIntoNestedObjects(t *testing.T) {
	in := `{"meta":{"a":1,"b":2}}`
	out, err := Patch(in, map[string]any{"meta": map[string]any{"a": 99}})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	meta, ok := GetKey(out, "meta")
	if !ok {
		t.Fatalf("meta missing")
	}
	if meta != `{"a":99}` {
		t.Fatalf("meta should be replaced wholesale, got %q", meta)
	}
}

func TestSetKeyOnEmptyTags(t *testing.T) {
	out, err := SetKey("", "name", "Shop")
	if err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if out != `{"name":"Shop"}` {
		t.Fatalf("got %q", out)
	}
}

func TestRemoveKeyAbsentIsNoop(t *testing.T) {
	in := `{"name":"Shop"}`
	out, err := RemoveKey(in, "missing")
	if err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}
	if out != in {
		t.Fatalf("expected unchanged, got %q", out)
	}
}
