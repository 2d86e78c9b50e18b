package httpclient

import (
	"context"
	"encoding/base64"
	"testing"
)

func TestApplyAuthBasic(t *testing.T) {
	c := New()
	headers := map[string]string{}
	err := c.applyAuth(context.Background(), &Auth{Scheme: "basic", BasicUsername: "u", BasicPassword: "p"}, headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
	if headers["Authorization"] != want {
		t.Fatalf("Authorization = %q, want %q", headers["Authorization"], want)
	}
}

func TestApplyAuthBearer(t *testing.T) {
	c := New()
	headers := map[string]string{}
	if err := c.applyAuth(context.Background(), &Auth{Scheme: "bearer", BearerToken: "T"}, headers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers["Authorization"] != "Bearer T" {
		t.Fatalf("Authorization = %q", headers["Authorization"])
	}
}

func TestApplyAuthUnknownScheme(t *testing.T) {
	c := New()
	if err := c.applyAuth(context.Background(), &Auth{Scheme: "wat"}, map[string]string{}); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}

func TestCookieJarIsPerHost(t *testing.T) {
	c := New()
	c.jar["api.example.com"] = map[string]string{"session": "s1"}

	if got := c.cookiesFor("api.example.com"); got["session"] != "s1" {
		t.Fatalf("cookiesFor returned %v", got)
	}
	if got := c.cookiesFor("other.example.com"); len(got) != 0 {
		t.Fatalf("cookies leaked across hosts: %v", got)
	}
}

func TestMarshalJSONBodyNilIsNil(t *testing.T) {
	data, err := MarshalJSONBody(nil)
	if err != nil || data != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", data, err)
	}
	data, err = MarshalJSONBody(map[string]any{"a": 1})
	if err != nil || string(data) != `{"a":1}` {
		t.Fatalf("got (%s, %v)", data, err)
	}
}
