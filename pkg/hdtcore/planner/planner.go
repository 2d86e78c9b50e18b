// Package planner builds the test execution tree from Concrete APIs: every
// runnable API is inserted at every position whose accumulated
// produced-variable set newly satisfies its dependencies, seeding producers
// on demand.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
)

// Node is one position in the test execution tree. The root node is
// synthetic (Api == nil) and carries the predefined/global variables as its
// produces set. The same API may own several Nodes in independent branches;
// it never appears twice on one root-to-leaf path.
type Node struct {
	Api      *expand.ConcreteAPI
	Parent   *Node
	Children []*Node

	// Produces is this node's own contribution: a copy of its API's
	// Produces set. Ancestor Deletes are applied when produces are
	// accumulated along a path (see undefinedVars).
	Produces map[string]bool
	// SubTreeProduces is the union of Produces across this node and every
	// descendant, with each node's API Deletes removed from that node's
	// set; insertion consults it to choose which children to descend into.
	SubTreeProduces map[string]bool

	// pre/post are the getter/destructor satellite nodes synthesised around
	// a constructor API that declares a VarNew.
	PreRun  *Node
	PostRun *Node

	identifier string
}

// Identifier returns the stable "a.b.c" dotted path used for child run
// context naming.
func (n *Node) Identifier() string {
	return n.identifier
}

// Tree is the root of the plan plus the bookkeeping needed to resolve
// getter/destructor/hook references by qualified descriptor name.
type Tree struct {
	Root *Node

	byDescriptorName map[string][]*expand.ConcreteAPI
	referenced       map[string]bool
	// placed records APIs that own at least one tree node. It only stops
	// the top-level loop from re-running an API that producer seeding
	// already pulled in; every duplicate-suppression decision inside the
	// recursion is path-local (ancestor walk), never tree-global, so the
	// same API can land in several independent branches.
	placed map[*expand.ConcreteAPI]bool
	// appends counts append calls, the planner's progress measure: a
	// producer-seeding round that grows the tree by nothing must not retry.
	appends int
	// inserting is the transient re-entrancy set, keyed per (api, node): an
	// API whose insertion at a given node is already underway must not be
	// re-attempted there through producer seeding, or the recursion never
	// terminates on mutually-dependent corpora.
	inserting map[insertKey]bool
}

type insertKey struct {
	api  *expand.ConcreteAPI
	node *Node
}

// Predefined is the set of variable names known before any API runs: CLI
// `-var` assignments, resolved catalogue scalars/templates/computed values,
// and host variables.
type Predefined map[string]bool

// Build runs the full insertion algorithm over requested, returning the
// completed tree. corpus is the full set of Concrete APIs known to the
// loader: producer seeding and getter/destructor resolution draw from it,
// so an API excluded by the -tests filter can still be inserted when
// something requested needs its output. A nil corpus means requested is
// the whole corpus.
//
// Both slices must already be in caller-preferred iteration order;
// insertion order among equally-insertable APIs follows that input order,
// but ties in the "undefined" determination within a single insertion
// attempt break by the alphabetically first undefined variable.
func Build(requested, corpus []*expand.ConcreteAPI, predefined Predefined) (*Tree, error) {
	if corpus == nil {
		corpus = requested
	}

	t := &Tree{
		Root: &Node{
			Produces:        copyVarSet(predefined),
			SubTreeProduces: copyVarSet(predefined),
			identifier:      "",
		},
		byDescriptorName: make(map[string][]*expand.ConcreteAPI),
		referenced:       collectReferencedNames(corpus),
		placed:           make(map[*expand.ConcreteAPI]bool),
		inserting:        make(map[insertKey]bool),
	}
	for _, a := range corpus {
		t.byDescriptorName[a.DescriptorName] = append(t.byDescriptorName[a.DescriptorName], a)
	}

	for _, a := range requested {
		if !t.isInsertable(a) || t.placed[a] {
			continue
		}
		if _, err := t.insert(t.Root, a, corpus); err != nil {
			return nil, err
		}
	}

	// Any requested API never reached is a dangling dependency -- a
	// compile-time error: the plan must place everything it was asked for.
	var stranded []string
	for _, a := range requested {
		if !t.placed[a] && t.isInsertable(a) {
			stranded = append(stranded, a.Name)
		}
	}
	if len(stranded) > 0 {
		sort.Strings(stranded)
		return nil, fmt.Errorf("could not place API(s) into the execution tree (unsatisfiable dependencies): %s", strings.Join(stranded, ", "))
	}

	return t, nil
}

// isInsertable implements "an API is insertable iff its name is not a
// prefix of any referenced API name", checked at descriptor granularity
// since references (hooks, get/delete) name descriptors, not individual
// variable-combination variants.
func (t *Tree) isInsertable(a *expand.ConcreteAPI) bool {
	for r := range t.referenced {
		if strings.HasPrefix(r, a.DescriptorName) {
			return false
		}
	}
	return true
}

func collectReferencedNames(apis []*expand.ConcreteAPI) map[string]bool {
	referenced := make(map[string]bool)
	for _, a := range apis {
		collectHookRefs(referenced, a.OnBeforeRun)
		collectHookRefs(referenced, a.Before)
		collectHookRefs(referenced, a.AfterAPI)
		collectHookRefs(referenced, a.AfterAll)
		collectHookRefs(referenced, a.OnAfterRun)
		if a.VarNew != nil {
			if a.VarNew.Get != "" {
				referenced[a.VarNew.Get] = true
			}
			if a.VarNew.Delete != "" {
				referenced[a.VarNew.Delete] = true
			}
		}
	}
	return referenced
}

func collectHookRefs(referenced map[string]bool, hooks []descriptor.Hook) {
	for _, h := range hooks {
		if h.Name != "" {
			referenced[h.Name] = true
		}
	}
}

// insert attempts to place api in the subtree rooted at node, recursively.
// It reports whether api is now available somewhere on a path below node --
// newly appended, or already hosted on this path. corpus is the full API
// set, needed to seed producers on demand.
func (t *Tree) insert(node *Node, api *expand.ConcreteAPI, corpus []*expand.ConcreteAPI) (bool, error) {
	key := insertKey{api: api, node: node}
	if t.inserting[key] {
		return false, nil
	}
	t.inserting[key] = true
	defer delete(t.inserting, key)

	if !t.isInsertable(api) {
		return false, nil
	}

	// Duplicate suppression is path-local: an API already hosted by an
	// ancestor (by descriptor name) is available here and must not repeat
	// on this path, but may still land in other branches.
	for anc := node; anc != nil; anc = anc.Parent {
		if anc.Api != nil && anc.Api.DescriptorName == api.DescriptorName {
			return true, nil
		}
	}

	undef := undefinedVars(api, node)
	if len(undef) == 0 {
		if err := t.append(node, api); err != nil {
			return false, err
		}
		return true, nil
	}

	// Descend into every child whose subtree supplies at least part of
	// what is still missing; whatever remains is seeded further down.
	accepted := false
	for _, child := range node.Children {
		if !overlaps(undef, child.SubTreeProduces) {
			continue
		}
		ok, err := t.insert(child, api, corpus)
		if err != nil {
			return false, err
		}
		accepted = accepted || ok
	}
	if accepted {
		return true, nil
	}

	// No child accepted: seed every producer of the first (deterministically
	// chosen) undefined variable here, then retry.
	first := undef[0]
	producers := findProducers(first, api, corpus)
	if len(producers) == 0 {
		return false, fmt.Errorf("no API produces variable %q needed by %q", first, api.Name)
	}
	before := t.appends
	for _, p := range producers {
		if _, err := t.insert(node, p, corpus); err != nil {
			return false, err
		}
	}
	if t.appends == before {
		return false, fmt.Errorf("could not place any producer of variable %q needed by %q", first, api.Name)
	}

	// Retry with the re-entrancy flag cleared now that the tree has grown.
	delete(t.inserting, key)
	return t.insert(node, api, corpus)
}

// undefinedVars computes consumes - ancestor.produces - predefined (the
// root's Produces), sorted by name for deterministic tie-breaking. A name
// deleted by an ancestor's API counts as bound only if a node below that
// ancestor produces it again.
func undefinedVars(api *expand.ConcreteAPI, node *Node) []string {
	bound := make(map[string]bool)
	deleted := make(map[string]bool)
	for anc := node; anc != nil; anc = anc.Parent {
		for v := range anc.Produces {
			if !deleted[v] {
				bound[v] = true
			}
		}
		if anc.Api != nil {
			for v := range anc.Api.Deletes {
				if !bound[v] {
					deleted[v] = true
				}
			}
		}
	}
	names := make([]string, 0, len(api.Consumes))
	for v := range api.Consumes {
		if !bound[v] {
			names = append(names, v)
		}
	}
	sort.Strings(names)
	return names
}

func overlaps(undef []string, produced map[string]bool) bool {
	for _, v := range undef {
		if produced[v] {
			return true
		}
	}
	return false
}

// findProducers returns every corpus API other than self that produces
// name, in corpus order. Insertability and path-duplicate checks are the
// recursion's job, not the lookup's.
func findProducers(name string, self *expand.ConcreteAPI, corpus []*expand.ConcreteAPI) []*expand.ConcreteAPI {
	var out []*expand.ConcreteAPI
	for _, a := range corpus {
		if a == self {
			continue
		}
		if a.Produces[name] {
			out = append(out, a)
		}
	}
	return out
}

// append places api as a new child of node, synthesising its preRun and
// postRun satellites if it declares a VarNew, and updates the
// subTreeProduces chain up to the root honoring ancestor deletes. It is a
// fatal compile error for a var_new's get/delete peer name not to
// resolve to a Concrete API in the corpus.
func (t *Tree) append(node *Node, api *expand.ConcreteAPI) error {
	child := &Node{
		Api:      api,
		Parent:   node,
		Produces: copyVarSet(api.Produces),
	}
	if node.identifier == "" {
		child.identifier = sanitizeIdentifier(api.Name)
	} else {
		child.identifier = node.identifier + "." + sanitizeIdentifier(api.Name)
	}

	if api.VarNew != nil {
		if api.VarNew.Get != "" {
			getter := t.lookupDescriptor(api.VarNew.Get)
			if getter == nil {
				return fmt.Errorf("API %q: var_new.get references unknown API %q", api.Name, api.VarNew.Get)
			}
			pre := &Node{Api: getter, Parent: child, Produces: copyVarSet(getter.Produces), identifier: child.identifier + ".~pre"}
			child.PreRun = pre
		}
		if api.VarNew.Delete != "" {
			destructor := t.lookupDescriptor(api.VarNew.Delete)
			if destructor == nil {
				return fmt.Errorf("API %q: var_new.delete references unknown API %q", api.Name, api.VarNew.Delete)
			}
			post := &Node{Api: destructor, Parent: child, Produces: copyVarSet(destructor.Produces), identifier: child.identifier + ".~post"}
			child.PostRun = post
			if child.PreRun != nil {
				preDestructor := &Node{Api: destructor, Parent: child.PreRun, Produces: copyVarSet(destructor.Produces), identifier: child.identifier + ".~pre.~post"}
				child.PreRun.Children = []*Node{preDestructor}
			}
		}
	}

	node.Children = append(node.Children, child)
	t.placed[api] = true
	t.appends++

	propagateSubTreeProduces(child)
	return nil
}

func (t *Tree) lookupDescriptor(name string) *expand.ConcreteAPI {
	variants := t.byDescriptorName[name]
	if len(variants) == 0 {
		return nil
	}
	return variants[0]
}

// propagateSubTreeProduces recomputes subTreeProduces from child up through
// every ancestor: each ancestor's set is its own Produces union all
// descendants' Produces, minus anything that ancestor's API Deletes.
func propagateSubTreeProduces(start *Node) {
	for n := start; n != nil; n = n.Parent {
		set := copyVarSet(n.Produces)
		for _, c := range n.Children {
			for v := range c.SubTreeProduces {
				set[v] = true
			}
		}
		if n.Api != nil {
			for v := range n.Api.Deletes {
				delete(set, v)
			}
		}
		n.SubTreeProduces = set
	}
}

func copyVarSet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if v {
			out[k] = true
		}
	}
	return out
}

func sanitizeIdentifier(name string) string {
	return strings.NewReplacer(".", "_", "/", "_", " ", "_").Replace(name)
}
