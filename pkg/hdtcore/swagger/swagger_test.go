package swagger

import (
	"testing"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v2/apps/$appGuid":          "/v2/apps/{appGuid}",
		"/v2/apps/${appGuid}/routes": "/v2/apps/{appGuid}/routes",
		"/v2/apps":                   "/v2/apps",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildEmitsOperationsAndSkipsPrivate(t *testing.T) {
	vh := &descriptor.VirtualHost{
		Name: "cc",
		SwaggerInfo: descriptor.SwaggerInfo{
			Title:   "Cloud Controller",
			Version: "2.0",
		},
		Descriptors: []*descriptor.Descriptor{
			{
				Name:    "apps/get",
				Tags:    []string{"apps"},
				Request: descriptor.RequestTemplate{Method: "get", Path: "/v2/apps/$appGuid"},
				Responses: map[int]*descriptor.ResponseDescriptor{
					200: {Status: 200, Description: "the app", BodySchema: map[string]any{"type": "object"}},
					404: {Status: 404},
				},
			},
			{
				Name:    "apps/secret",
				Private: true,
				Request: descriptor.RequestTemplate{Method: "get", Path: "/v2/secret"},
				Responses: map[int]*descriptor.ResponseDescriptor{
					200: {Status: 200},
				},
			},
		},
	}

	doc, err := Build(vh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Swagger != "2.0" || doc.Info.Title != "Cloud Controller" {
		t.Fatalf("unexpected document header: %+v", doc)
	}
	if _, ok := doc.Paths["/v2/secret"]; ok {
		t.Fatal("private descriptor must be excluded from the document")
	}

	item, ok := doc.Paths["/v2/apps/{appGuid}"]
	if !ok {
		t.Fatalf("missing normalized path, have %v", doc.Paths)
	}
	op, ok := item["get"]
	if !ok {
		t.Fatal("missing get operation")
	}
	if len(op.Parameters) != 1 || op.Parameters[0].Name != "appGuid" || op.Parameters[0].In != "path" {
		t.Fatalf("unexpected parameters: %+v", op.Parameters)
	}
	if op.Responses["200"].Description != "the app" {
		t.Fatalf("unexpected 200 response: %+v", op.Responses["200"])
	}
	if op.Responses["404"].Description == "" {
		t.Fatal("response with no description should fall back to status text")
	}
}
