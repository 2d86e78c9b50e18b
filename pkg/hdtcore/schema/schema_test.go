package schema

import "testing"

func TestTranslateStringFlags(t *testing.T) {
	got, required, err := Translate("(i,req)user id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["type"] != "integer" || got["description"] != "user id" || !required {
		t.Fatalf("unexpected translation: %+v required=%v", got, required)
	}
}

func TestTranslateIgnoredFlagYieldsEmptySchema(t *testing.T) {
	got, required, err := Translate("(ign)internal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 || required {
		t.Fatalf("expected empty ignored schema, got %+v required=%v", got, required)
	}
}

func TestTranslateArrayOfOne(t *testing.T) {
	got, _, err := Translate([]any{"(s)name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["type"] != "array" {
		t.Fatalf("expected array type, got %+v", got)
	}
	items, ok := got["items"].(map[string]any)
	if !ok || items["type"] != "string" {
		t.Fatalf("unexpected items schema: %+v", got["items"])
	}
}

func TestTranslateObjectCollectsRequired(t *testing.T) {
	sketch := map[string]any{
		"id":   "(i,req)identifier",
		"name": "(s,opt)display name",
	}
	got, _, err := Translate(sketch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	required, _ := got["required"].([]string)
	if len(required) != 1 || required[0] != "id" {
		t.Fatalf("unexpected required set: %+v", required)
	}
}

func TestApplyBodyOverlayAnyOfErasesType(t *testing.T) {
	node := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
		},
	}
	overlay := map[string]any{
		"value.anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "integer"},
		},
	}
	out := ApplyBodyOverlay(node, overlay)
	props := out["properties"].(map[string]any)
	value := props["value"].(map[string]any)
	if _, hasType := value["type"]; hasType {
		t.Fatal("expected anyOf overlay to erase type")
	}
	if _, hasAnyOf := value["anyOf"]; !hasAnyOf {
		t.Fatal("expected anyOf key to be set")
	}
}

func TestTranslateWildcardObjectUsesAnchoredPattern(t *testing.T) {
	got, _, err := Translate(map[string]any{"*": "(s)any value"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pp, ok := got["patternProperties"].(map[string]any)
	if !ok {
		t.Fatalf("expected patternProperties, got %+v", got)
	}
	if _, ok := pp["^.+$"]; !ok {
		t.Fatalf("wildcard pattern should be ^.+$ (anchored, non-empty), got %v", pp)
	}
}
