package expand

import (
	"testing"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

func TestExpandCombinationFanOut(t *testing.T) {
	cat := variable.NewCatalogue()
	cat.Declare(&variable.Variable{Name: "grantType", Kind: variable.KindEnumeration, Enum: []string{"password", "client_credentials"}})
	cat.Declare(&variable.Variable{Name: "authHdr", Kind: variable.KindScalar, Scalar: "basic"})

	d := &descriptor.Descriptor{
		Name: "auth/token",
		Request: descriptor.RequestTemplate{
			Method:  "POST",
			Path:    "/oauth/token",
			Headers: map[string]string{"Authorization": "$authHdr"},
			Body:    map[string]any{"grant_type": "$grantType"},
		},
		Responses: map[int]*descriptor.ResponseDescriptor{
			200: {Status: 200, IgnoreBody: true},
		},
	}

	apis, err := Expand(d, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(apis) != 2 {
		t.Fatalf("got %d concrete APIs, want 2", len(apis))
	}
	if apis[0].Name != "auth/token" || apis[1].Name != "auth/token-1" {
		t.Fatalf("names = %q, %q; want auth/token, auth/token-1", apis[0].Name, apis[1].Name)
	}

	body0 := apis[0].Request.Body.(map[string]any)
	body1 := apis[1].Request.Body.(map[string]any)
	if body0["grant_type"] == body1["grant_type"] {
		t.Fatalf("each variant should carry one grant-type value, got %v and %v", body0, body1)
	}
	// authHdr is a scalar, not an enumeration: it stays a symbolic slot.
	if apis[0].Request.Headers["Authorization"] != "$authHdr" {
		t.Fatalf("scalar variable should remain symbolic, got %q", apis[0].Request.Headers["Authorization"])
	}
	if !apis[0].Consumes["authHdr"] {
		t.Fatal("symbolic request variable should be consumed")
	}
}

func TestExpandVarNewDefaultsSerialVarsFromBody(t *testing.T) {
	cat := variable.NewCatalogue()
	d := &descriptor.Descriptor{
		Name: "apps/create",
		Request: descriptor.RequestTemplate{
			Method: "POST",
			Path:   "/v2/apps",
			Body:   map[string]any{"name": "$appName", "space": "$spaceGuid"},
		},
		Responses: map[int]*descriptor.ResponseDescriptor{
			201: {
				Status: 201,
				Actions: descriptor.Actions{
					VarNew: &descriptor.VarNew{Name: "appGuid", Path: "metadata.guid", Get: "apps/get", Delete: "apps/del"},
				},
				IgnoreBody: true,
			},
		},
	}

	apis, err := Expand(d, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(apis) != 1 {
		t.Fatalf("got %d concrete APIs, want 1", len(apis))
	}
	a := apis[0]
	if a.VarNew == nil {
		t.Fatal("var_new not carried onto the concrete API")
	}
	if len(a.VarNew.SerialVars) != 2 || a.VarNew.SerialVars[0] != "appName" || a.VarNew.SerialVars[1] != "spaceGuid" {
		t.Fatalf("default serial_vars = %v, want body variables [appName spaceGuid]", a.VarNew.SerialVars)
	}
	if !a.Produces["appGuid"] {
		t.Fatal("var_new name should be produced")
	}
}

func TestExpandTestOverridesForceStatus(t *testing.T) {
	cat := variable.NewCatalogue()
	d := &descriptor.Descriptor{
		Name: "auth/login",
		Request: descriptor.RequestTemplate{
			Method: "POST",
			Path:   "/login",
			Body:   map[string]any{"user": "$userName"},
		},
		Responses: map[int]*descriptor.ResponseDescriptor{
			200: {Status: 200, IgnoreBody: true},
			401: {
				Status:     401,
				IgnoreBody: true,
				Tests:      []descriptor.Test{{Name: "bad-user", Vars: map[string]string{"userName": "nosuch"}}},
			},
		},
	}

	apis, err := Expand(d, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(apis) != 2 {
		t.Fatalf("got %d concrete APIs, want 2", len(apis))
	}

	var unauthorized *ConcreteAPI
	for _, a := range apis {
		if a.ExpectedStatus == 401 {
			unauthorized = a
		}
	}
	if unauthorized == nil {
		t.Fatal("missing 401 variant")
	}
	body := unauthorized.Request.Body.(map[string]any)
	if body["user"] != "nosuch" {
		t.Fatalf("test override not applied: %v", body)
	}
	if unauthorized.Consumes["userName"] {
		t.Fatal("overridden variable should no longer be consumed")
	}
}

func TestExpandTranslatesSketchIntoBodySchema(t *testing.T) {
	cat := variable.NewCatalogue()
	d := &descriptor.Descriptor{
		Name: "users/get",
		Request: descriptor.RequestTemplate{
			Method: "GET",
			Path:   "/user",
		},
		Responses: map[int]*descriptor.ResponseDescriptor{
			200: {
				Status: 200,
				BodySketch: map[string]any{
					"name": "(s,req)user display name",
					"age":  "(i,opt)age in years",
				},
			},
		},
	}

	apis, err := Expand(d, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sch := apis[0].Response.BodySchema
	if sch == nil {
		t.Fatal("sketch was not translated into a body schema")
	}
	props := sch["properties"].(map[string]any)
	if props["name"].(map[string]any)["type"] != "string" {
		t.Fatalf("unexpected schema: %+v", sch)
	}
	required := sch["required"].([]string)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("required = %v, want [name]", required)
	}
}

func TestExpandHookPrecedenceTestWins(t *testing.T) {
	cat := variable.NewCatalogue()
	d := &descriptor.Descriptor{
		Name:    "misc/thing",
		Request: descriptor.RequestTemplate{Method: "GET", Path: "/thing"},
		Before:  []descriptor.Hook{{Name: "misc/descriptor-level"}},
		Responses: map[int]*descriptor.ResponseDescriptor{
			200: {
				Status:     200,
				IgnoreBody: true,
				Tests: []descriptor.Test{{
					Name:   "custom",
					Before: []descriptor.Hook{{Name: "misc/test-level"}},
				}},
			},
		},
	}

	apis, err := Expand(d, cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(apis[0].Before) != 1 || apis[0].Before[0].Name != "misc/test-level" {
		t.Fatalf("test-level hooks should win, got %+v", apis[0].Before)
	}
}
