package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirectoryTree(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "manifest.yaml"), `
variables:
  - name: userName
    description: login user
    value: admin
  - name: grantType
    kind: enum
    enum: [password, client_credentials]
`)
	writeFile(t, filepath.Join(dir, "uaa", "manifest.yaml"), `
host_variable: uaaHost
swagger:
  title: UAA
  version: "1.0"
`)
	writeFile(t, filepath.Join(dir, "uaa", "login.yaml"), `
name: uaa/login
request:
  method: POST
  path: /oauth/token
  body:
    username: $userName
responses:
  "200":
    ignore_body: true
    actions:
      var_set:
        - name: token
          path: access_token
`)

	corpus, err := Load(dir, map[string]string{"extra": "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, ok := corpus.Catalogue.Lookup("userName"); !ok || v.Scalar != "admin" {
		t.Fatalf("userName not declared correctly: %+v", v)
	}
	if v, ok := corpus.Catalogue.Lookup("grantType"); !ok || v.Kind != variable.KindEnumeration || len(v.Enum) != 2 {
		t.Fatalf("grantType not declared as enumeration: %+v", v)
	}
	if _, ok := corpus.Catalogue.Lookup("extra"); !ok {
		t.Fatal("-var override not declared")
	}

	if len(corpus.VirtualHosts) != 1 {
		t.Fatalf("got %d virtual hosts, want 1", len(corpus.VirtualHosts))
	}
	vh := corpus.VirtualHosts[0]
	if vh.Name != "uaa" || vh.HostVariable != "uaaHost" || vh.SwaggerInfo.Title != "UAA" {
		t.Fatalf("unexpected virtual host: %+v", vh)
	}
	if len(vh.Descriptors) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(vh.Descriptors))
	}

	d := vh.Descriptors[0]
	if d.Name != "uaa/login" {
		t.Fatalf("descriptor name = %q", d.Name)
	}
	if d.Request.Path != "${uaaHost}/oauth/token" {
		t.Fatalf("host variable not prefixed onto path: %q", d.Request.Path)
	}
	resp, ok := d.Responses[200]
	if !ok {
		t.Fatalf("missing 200 response: %+v", d.Responses)
	}
	if len(resp.Actions.VarSets) != 1 || resp.Actions.VarSets[0].Name != "token" {
		t.Fatalf("var_set not parsed: %+v", resp.Actions)
	}
}

func TestLoadHonorsIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".hdtignore"), "skipme\n# comment\n")
	writeFile(t, filepath.Join(dir, "skipme", "manifest.yaml"), "host_variable: h\n")
	writeFile(t, filepath.Join(dir, "kept", "manifest.yaml"), "host_variable: h\n")
	// swagger-* outputs are always excluded from the descriptor scan.
	writeFile(t, filepath.Join(dir, "kept", "swagger-kept.json"), "{}")

	corpus, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(corpus.VirtualHosts) != 1 || corpus.VirtualHosts[0].Name != "kept" {
		t.Fatalf("ignore patterns not honored: %+v", corpus.VirtualHosts)
	}
	if len(corpus.VirtualHosts[0].Descriptors) != 0 {
		t.Fatal("swagger-* file must never be loaded as a descriptor")
	}
}

func TestLoadSubdirWithoutManifestIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stray", "notes.yaml"), "name: x\n")

	corpus, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(corpus.VirtualHosts) != 0 {
		t.Fatalf("directory without manifest should not become a virtual host: %+v", corpus.VirtualHosts)
	}
}
