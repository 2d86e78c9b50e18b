package planner

import (
	"testing"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
)

func api(name string, consumes, produces []string) *expand.ConcreteAPI {
	a := &expand.ConcreteAPI{
		Name:           name,
		DescriptorName: name,
		Consumes:       map[string]bool{},
		Produces:       map[string]bool{},
		Deletes:        map[string]bool{},
	}
	for _, c := range consumes {
		a.Consumes[c] = true
	}
	for _, p := range produces {
		a.Produces[p] = true
	}
	return a
}

func TestBuildLinearChain(t *testing.T) {
	login := api("auth/login", nil, []string{"token"})
	listUsers := api("users/list", []string{"token"}, nil)

	tree, err := Build([]*expand.ConcreteAPI{listUsers, login}, nil, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Root.Children) != 1 {
		t.Fatalf("expected one root child (the seeded producer), got %d", len(tree.Root.Children))
	}
	root := tree.Root.Children[0]
	if root.Api.Name != "auth/login" {
		t.Fatalf("expected auth/login to be seeded first, got %s", root.Api.Name)
	}
	if len(root.Children) != 1 || root.Children[0].Api.Name != "users/list" {
		t.Fatalf("expected users/list nested under auth/login, got %+v", root.Children)
	}
}

func TestBuildPredefinedSatisfiesConsumer(t *testing.T) {
	listUsers := api("users/list", []string{"token"}, nil)
	tree, err := Build([]*expand.ConcreteAPI{listUsers}, nil, Predefined{"token": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Root.Children) != 1 || tree.Root.Children[0].Api.Name != "users/list" {
		t.Fatalf("expected users/list to be insertable directly at root, got %+v", tree.Root.Children)
	}
}

func TestBuildUnsatisfiableDependencyErrors(t *testing.T) {
	orphan := api("users/list", []string{"token"}, nil)
	_, err := Build([]*expand.ConcreteAPI{orphan}, nil, Predefined{})
	if err == nil {
		t.Fatal("expected error for an unsatisfiable consumer")
	}
}

func TestBuildReferencedGetterIsNotStandaloneInserted(t *testing.T) {
	getApp := api("apps/getApp", nil, []string{"appName"})
	createApp := api("apps/createApp", nil, []string{"appId"})
	createApp.VarNew = &descriptor.VarNew{Name: "appId", Get: "apps/getApp"}

	tree, err := Build([]*expand.ConcreteAPI{getApp, createApp}, nil, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, child := range tree.Root.Children {
		if child.Api.Name == "apps/getApp" {
			t.Fatal("getter referenced by var_new should not appear as a standalone root child")
		}
	}
	found := false
	for _, child := range tree.Root.Children {
		if child.Api.Name == "apps/createApp" {
			found = true
			if child.PreRun == nil || child.PreRun.Api.Name != "apps/getApp" {
				t.Fatal("expected apps/getApp to be synthesised as createApp's preRun satellite")
			}
		}
	}
	if !found {
		t.Fatal("expected apps/createApp to be inserted")
	}
}

func TestBuildSeedsProducerFromCorpusOutsideRequestedSet(t *testing.T) {
	makeX := api("things/makeX", nil, []string{"x"})
	useX := api("things/useX", []string{"x"}, nil)

	// makeX is in the corpus but not in the requested (filtered) set.
	tree, err := Build([]*expand.ConcreteAPI{useX}, []*expand.ConcreteAPI{makeX, useX}, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Root.Children) != 1 || tree.Root.Children[0].Api.Name != "things/makeX" {
		t.Fatalf("expected makeX seeded at root, got %+v", tree.Root.Children)
	}
	kids := tree.Root.Children[0].Children
	if len(kids) != 1 || kids[0].Api.Name != "things/useX" {
		t.Fatalf("expected useX under makeX, got %+v", kids)
	}
}

func TestBuildNoDuplicateOnAncestorPath(t *testing.T) {
	login := api("auth/login", nil, []string{"token"})
	a := api("users/a", []string{"token"}, []string{"userId"})
	b := api("users/b", []string{"token", "userId"}, nil)

	tree, err := Build([]*expand.ConcreteAPI{login, a, b}, nil, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var walk func(n *Node, seen map[string]bool)
	walk = func(n *Node, seen map[string]bool) {
		if n.Api != nil {
			if seen[n.Api.DescriptorName] {
				t.Fatalf("API %q appears twice on one root-to-leaf path", n.Api.Name)
			}
			seen[n.Api.DescriptorName] = true
		}
		for _, c := range n.Children {
			cp := make(map[string]bool, len(seen))
			for k, v := range seen {
				cp[k] = v
			}
			walk(c, cp)
		}
	}
	walk(tree.Root, map[string]bool{})
}

// assertDependencyComplete walks the tree checking that every node's
// consumes set is covered by its strict ancestors' produces plus the
// predefined set (a node's own produces do not count for itself).
func assertDependencyComplete(t *testing.T, n *Node, bound map[string]bool) {
	t.Helper()
	if n.Api != nil {
		for v := range n.Api.Consumes {
			if !bound[v] {
				t.Fatalf("node %s consumes %q which no ancestor produces", n.Identifier(), v)
			}
		}
	}
	for _, c := range n.Children {
		cp := make(map[string]bool, len(bound))
		for k := range bound {
			cp[k] = true
		}
		if n.Api != nil {
			for v := range n.Api.Produces {
				cp[v] = true
			}
		}
		assertDependencyComplete(t, c, cp)
	}
}

func subtreeHosts(n *Node, name string) bool {
	if n.Api != nil && n.Api.Name == name {
		return true
	}
	for _, c := range n.Children {
		if subtreeHosts(c, name) {
			return true
		}
	}
	return false
}

func rootChild(t *testing.T, tree *Tree, name string) *Node {
	t.Helper()
	for _, c := range tree.Root.Children {
		if c.Api.Name == name {
			return c
		}
	}
	t.Fatalf("no root child named %s, have %d children", name, len(tree.Root.Children))
	return nil
}

func TestBuildSeedsAllProducersOfAVariable(t *testing.T) {
	useX := api("things/useX", []string{"x"}, nil)
	makeX1 := api("things/makeX1", nil, []string{"x"})
	makeX2 := api("things/makeX2", nil, []string{"x"})

	tree, err := Build([]*expand.ConcreteAPI{useX, makeX1, makeX2}, nil, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Root.Children) != 2 {
		t.Fatalf("expected both producers seeded at root, got %d children", len(tree.Root.Children))
	}
	for _, producer := range []string{"things/makeX1", "things/makeX2"} {
		n := rootChild(t, tree, producer)
		if !subtreeHosts(n, "things/useX") {
			t.Fatalf("expected things/useX under %s for maximum coverage", producer)
		}
	}
}

func TestBuildInsertsAPIIntoEveryBranchNeedingIt(t *testing.T) {
	makeA := api("mk/makeA", nil, []string{"a"})
	makeB := api("mk/makeB", nil, []string{"b"})
	makeX := api("mk/makeX", nil, []string{"x"})
	useAX := api("use/useAX", []string{"a", "x"}, nil)
	useBX := api("use/useBX", []string{"b", "x"}, nil)

	tree, err := Build([]*expand.ConcreteAPI{makeA, makeB, useAX, useBX, makeX}, nil, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDependencyComplete(t, tree.Root, map[string]bool{})

	// Each independent branch gets its own copy of the shared producer:
	// makeX under makeA feeding useAX, and a second makeX under makeB
	// feeding useBX, instead of branch B failing because branch A already
	// hosts makeX.
	branchA := rootChild(t, tree, "mk/makeA")
	if !subtreeHosts(branchA, "mk/makeX") || !subtreeHosts(branchA, "use/useAX") {
		t.Fatalf("branch A should host makeX and useAX")
	}
	branchB := rootChild(t, tree, "mk/makeB")
	if !subtreeHosts(branchB, "mk/makeX") || !subtreeHosts(branchB, "use/useBX") {
		t.Fatalf("branch B should host its own makeX copy and useBX")
	}
}

func TestBuildDescendsIntoPartiallySatisfyingChild(t *testing.T) {
	makeA := api("mk/makeA", nil, []string{"a"})
	makeX := api("mk/makeX", nil, []string{"x"})
	useAX := api("use/useAX", []string{"a", "x"}, nil)

	// makeA's subtree satisfies only "a"; the planner must still descend
	// into it and seed makeX there rather than give up at the root.
	tree, err := Build([]*expand.ConcreteAPI{makeA, useAX, makeX}, nil, Predefined{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	branchA := rootChild(t, tree, "mk/makeA")
	if !subtreeHosts(branchA, "mk/makeX") {
		t.Fatal("expected makeX seeded inside makeA's subtree")
	}
	if !subtreeHosts(branchA, "use/useAX") {
		t.Fatal("expected useAX placed inside makeA's subtree")
	}
	assertDependencyComplete(t, tree.Root, map[string]bool{})
}
