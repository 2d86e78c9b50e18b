package variable

import "testing"

func TestEnvironmentSubstituteFixedPoint(t *testing.T) {
	env := NewEnvironment()
	env.Set("userName", "u")
	env.Set("userPass", "p")
	env.Set("greeting", "hello $userName")

	got, err := env.Substitute("${greeting}, your password is $userPass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "hello u, your password is p"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEnvironmentSubstituteMissingIsFatal(t *testing.T) {
	env := NewEnvironment()
	if _, err := env.Substitute("$missing"); err == nil {
		t.Fatal("expected error for undefined variable")
	}
}

func TestEnvironmentSubstituteCycleIsFatal(t *testing.T) {
	env := NewEnvironment()
	env.Set("a", "$b")
	env.Set("b", "$a")
	if _, err := env.Substitute("$a"); err == nil {
		t.Fatal("expected non-convergence error for cyclic reference")
	}
}

func TestEnvironmentCloneIsolation(t *testing.T) {
	env := NewEnvironment()
	env.Set("x", "1")
	clone := env.Clone()
	clone.Set("x", "2")
	clone.Set("y", "3")

	if v, _ := env.Get("x"); v != "1" {
		t.Fatalf("original environment mutated: x=%s", v)
	}
	if env.Has("y") {
		t.Fatal("original environment saw clone-only variable")
	}
}

func TestCatalogueResolveTemplateAndComputed(t *testing.T) {
	cat := NewCatalogue()
	cat.Declare(&Variable{Name: "userName", Kind: KindScalar, Scalar: "u"})
	cat.Declare(&Variable{Name: "userPass", Kind: KindScalar, Scalar: "p"})
	cat.Declare(&Variable{Name: "basicPair", Kind: KindTemplate, Template: "$userName:$userPass"})
	cat.Declare(&Variable{Name: "basicHeader", Kind: KindComputed, Of: "basicPair", Transform: TransformBase64})

	env, err := cat.Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pair, _ := env.Get("basicPair")
	if pair != "u:p" {
		t.Fatalf("basicPair = %q, want u:p", pair)
	}
	header, _ := env.Get("basicHeader")
	want, _ := ApplyTransform(TransformBase64, "u:p")
	if header != want {
		t.Fatalf("basicHeader = %q, want %q", header, want)
	}
}

func TestCatalogueResolveCycleIsFatal(t *testing.T) {
	cat := NewCatalogue()
	cat.Declare(&Variable{Name: "a", Kind: KindTemplate, Template: "$b"})
	cat.Declare(&Variable{Name: "b", Kind: KindTemplate, Template: "$a"})

	if _, err := cat.Resolve(); err == nil {
		t.Fatal("expected cyclic definition error")
	}
}

func TestCatalogueCombinationsCartesianProduct(t *testing.T) {
	cat := NewCatalogue()
	cat.Declare(&Variable{Name: "grantType", Kind: KindEnumeration, Enum: []string{"password", "client_credentials"}})
	cat.Declare(&Variable{Name: "authHdr", Kind: KindEnumeration, Enum: []string{"basic"}})

	combos, err := cat.Combinations([]string{"grantType", "authHdr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(combos) != 2 {
		t.Fatalf("got %d combinations, want 2", len(combos))
	}
	if combos[0]["grantType"] != "password" || combos[1]["grantType"] != "client_credentials" {
		t.Fatalf("unexpected combination order: %+v", combos)
	}
}
