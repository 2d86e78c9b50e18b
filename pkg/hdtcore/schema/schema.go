// Package schema translates the friendly body-sketch grammar into JSON
// Schema documents consumable by gojsonschema and emitted into the
// generated Swagger document.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// flag is one sketch flag marker: a type letter group or opt/req/ign.
type flag string

const (
	flagArray        flag = "a"
	flagBoolean      flag = "b"
	flagBoolArray    flag = "ba"
	flagDateTime     flag = "dt"
	flagDateTimeArr  flag = "dts"
	flagInteger      flag = "i"
	flagIntegerArray flag = "ia"
	flagObject       flag = "o"
	flagString       flag = "s"
	flagStringArray  flag = "sa"
	flagOptional     flag = "opt"
	flagRequired     flag = "req"
	flagIgnored      flag = "ign"
)

// Translate converts one sketch node into a JSON Schema fragment, returning
// whether the caller marked this field required (collected by the parent
// object translator into its own "required" array).
func Translate(sketch any) (map[string]any, bool, error) {
	switch v := sketch.(type) {
	case string:
		return translateString(v)
	case []any:
		return translateArray(v)
	case map[string]any:
		return translateObject(v)
	case nil:
		return map[string]any{}, false, nil
	default:
		return nil, false, fmt.Errorf("schema: unsupported sketch node type %T", sketch)
	}
}

// translateString parses "descr" or "(flags)rest" strings. A bare
// string with no flag group defaults to required:true; "opt" is the only
// way to relax that, and also widens the field's type with null.
func translateString(s string) (map[string]any, bool, error) {
	descr := s
	var flags []flag
	required := true
	optional := false

	if strings.HasPrefix(s, "(") {
		end := strings.Index(s, ")")
		if end < 0 {
			return nil, false, fmt.Errorf("schema: unterminated flag group in %q", s)
		}
		flagText := s[1:end]
		descr = strings.TrimSpace(s[end+1:])
		for _, f := range strings.Split(flagText, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			switch flag(f) {
			case flagOptional:
				required = false
				optional = true
			case flagRequired:
				required = true
			case flagIgnored:
				return map[string]any{}, false, nil
			default:
				flags = append(flags, flag(f))
			}
		}
	}

	out := map[string]any{"description": descr}
	typeFlag := primaryTypeFlag(flags)
	applyTypeFlag(out, typeFlag)
	if optional {
		widenWithNull(out)
	}
	return out, required, nil
}

// widenWithNull turns out["type"] into a two-element ["<type>","null"] array,
// the "opt" flag's type-widening behaviour.
func widenWithNull(out map[string]any) {
	t, ok := out["type"].(string)
	if !ok {
		return
	}
	out["type"] = []any{t, "null"}
}

func primaryTypeFlag(flags []flag) flag {
	for _, f := range flags {
		switch f {
		case flagArray, flagBoolean, flagBoolArray, flagDateTime, flagDateTimeArr,
			flagInteger, flagIntegerArray, flagObject, flagString, flagStringArray:
			return f
		}
	}
	return flagString
}

func applyTypeFlag(out map[string]any, f flag) {
	switch f {
	case flagBoolean:
		out["type"] = "boolean"
	case flagInteger:
		out["type"] = "integer"
	case flagDateTime:
		out["type"] = "string"
		out["format"] = "date-time"
	case flagObject:
		out["type"] = "object"
	case flagArray:
		out["type"] = "array"
	case flagBoolArray:
		out["type"] = "array"
		out["items"] = map[string]any{"type": "boolean"}
	case flagIntegerArray:
		out["type"] = "array"
		out["items"] = map[string]any{"type": "integer"}
	case flagDateTimeArr:
		out["type"] = "array"
		out["items"] = map[string]any{"type": "string", "format": "date-time"}
	case flagStringArray:
		out["type"] = "array"
		out["items"] = map[string]any{"type": "string"}
	default:
		out["type"] = "string"
	}
}

// translateArray handles the array-of-1 (bare items schema) and
// array-of-2 ([meta, itemSchema]) forms.
func translateArray(arr []any) (map[string]any, bool, error) {
	switch len(arr) {
	case 1:
		items, _, err := Translate(arr[0])
		if err != nil {
			return nil, false, err
		}
		return map[string]any{"type": "array", "items": items}, false, nil
	case 2:
		meta, required, err := Translate(arr[0])
		if err != nil {
			return nil, false, err
		}
		items, _, err := Translate(arr[1])
		if err != nil {
			return nil, false, err
		}
		meta["type"] = "array"
		meta["items"] = items
		return meta, required, nil
	default:
		return nil, false, fmt.Errorf("schema: array sketch must have 1 or 2 elements, got %d", len(arr))
	}
}

// translateObject recurses through object fields, reserving the "__" key
// for sketch-level metadata (only its description is read), a lone "*" key for
// patternProperties, and collecting each child's own required flag into
// this object's "required" array.
func translateObject(obj map[string]any) (map[string]any, bool, error) {
	meta, _ := obj["__"].(map[string]any)

	out := map[string]any{"type": "object"}
	if meta != nil {
		if descr, ok := meta["description"].(string); ok {
			out["description"] = descr
		}
	}

	nonMetaKeys := len(obj)
	if meta != nil {
		nonMetaKeys--
	}
	if wildcard, ok := obj["*"]; ok && nonMetaKeys == 1 {
		itemSchema, _, err := Translate(wildcard)
		if err != nil {
			return nil, false, err
		}
		out["patternProperties"] = map[string]any{"^.+$": itemSchema}
		return out, false, nil
	}

	props := map[string]any{}
	var required []string
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k == "__" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		childSchema, childRequired, err := Translate(obj[k])
		if err != nil {
			return nil, false, fmt.Errorf("schema: field %q: %w", k, err)
		}
		props[k] = childSchema
		if childRequired {
			required = append(required, k)
		}
	}
	out["properties"] = props
	if len(required) > 0 {
		out["required"] = required
	}
	return out, false, nil
}

// ApplyBodyOverlay applies a dotted-path overlay map (the `bodymd` block)
// to an already-translated schema. All path segments but the last name
// properties to descend through; the last names a schema keyword on the
// node reached, and the overlay value replaces that keyword outright (it
// is not merged with an existing value). A path through a missing
// property is ignored. A last segment of "anyOf" also erases that node's
// "type" key, since anyOf subsumes it.
func ApplyBodyOverlay(schemaNode map[string]any, overlay map[string]any) map[string]any {
	for path, value := range overlay {
		applyOverlayPath(schemaNode, strings.Split(path, "."), value)
	}
	return schemaNode
}

func applyOverlayPath(node map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	key := path[0]
	if len(path) == 1 {
		if key == "anyOf" {
			delete(node, "type")
		}
		node[key] = value
		return
	}

	props, _ := node["properties"].(map[string]any)
	if props == nil {
		return
	}
	child, _ := props[key].(map[string]any)
	if child == nil {
		return
	}
	applyOverlayPath(child, path[1:], value)
}
