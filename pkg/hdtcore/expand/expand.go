// Package expand implements Descriptor Expansion:
// exploding a Multi-Response API Descriptor into one Concrete API per
// (response, test-variant, variable-combination) triple.
package expand

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/descriptor"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/schema"
	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/variable"
)

// ConcreteAPI is the planner's schedulable unit.
type ConcreteAPI struct {
	// Name is unique within the corpus: "<descriptor>" or
	// "<descriptor>-<k>" for the k-th variable combination (k=0 omitted),
	// with @status / ~test disambiguators when a descriptor fans out.
	Name string
	// DescriptorName is the owning descriptor's qualified name, used for
	// referenced-API / insertability checks which operate at
	// descriptor granularity rather than per-combination.
	DescriptorName string
	// Groups are the descriptor's name-prefix matchers, checked alongside
	// Name itself when filtering the corpus by `-tests PREFIX`.
	Groups []string

	Request        descriptor.RequestTemplate
	ExpectedStatus int
	Response       *descriptor.ResponseDescriptor

	Consumes map[string]bool
	Produces map[string]bool
	Deletes  map[string]bool

	Actions descriptor.Actions
	VarNew  *descriptor.VarNew

	SerialVars []string

	OnBeforeRun []descriptor.Hook
	Before      []descriptor.Hook
	AfterAPI    []descriptor.Hook
	AfterAll    []descriptor.Hook
	OnAfterRun  []descriptor.Hook

	// combination is the enumeration-variable assignment ground into this
	// variant's request template; the runtime re-expands against the
	// environment rather than trusting this snapshot, but it is kept for
	// diagnostics.
	combination variable.Combination
}

// Expand explodes every response/test/combination of d into Concrete APIs.
// cat supplies enumeration candidates for the Cartesian product.
func Expand(d *descriptor.Descriptor, cat *variable.Catalogue) ([]*ConcreteAPI, error) {
	var out []*ConcreteAPI

	statuses := sortedStatusKeys(d.Responses)
	for _, status := range statuses {
		resp := d.Responses[status]
		if err := materializeBodySchema(d.Name, resp); err != nil {
			return nil, err
		}
		tests := resp.Tests
		if len(tests) == 0 {
			tests = []descriptor.Test{{Name: "default"}}
		}

		for _, test := range tests {
			groundRequest, err := overlayVars(d.Request, test.Vars)
			if err != nil {
				return nil, err
			}

			enumVars := enumerationVarsInRequest(groundRequest, cat)
			combos, err := cat.Combinations(enumVars)
			if err != nil {
				return nil, fmt.Errorf("descriptor %s: %w", d.Name, err)
			}

			for k, combo := range combos {
				api, err := buildConcreteAPI(d, resp, test, groundRequest, combo, k)
				if err != nil {
					return nil, err
				}
				out = append(out, api)
			}
		}
	}
	return out, nil
}

// materializeBodySchema translates a response's body sketch (plus any
// `bodymd` overlay) into the JSON Schema the runtime validates against and
// the Swagger emitter documents. An explicitly supplied BodySchema
// wins; translation happens once per response descriptor.
func materializeBodySchema(name string, resp *descriptor.ResponseDescriptor) error {
	if resp.BodySchema != nil || resp.BodySketch == nil || resp.IgnoreBody {
		return nil
	}
	translated, _, err := schema.Translate(resp.BodySketch)
	if err != nil {
		return fmt.Errorf("descriptor %s: response %d: %w", name, resp.Status, err)
	}
	if len(resp.BodyOverlay) > 0 {
		translated = schema.ApplyBodyOverlay(translated, resp.BodyOverlay)
	}
	resp.BodySchema = translated
	return nil
}

func sortedStatusKeys(responses map[int]*descriptor.ResponseDescriptor) []int {
	keys := make([]int, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// overlayVars applies a test's per-field variable overrides onto the
// descriptor's base request template. Overrides replace
// matching $var occurrences in path/headers/body text outright by binding
// them into a throwaway substitution env scoped to this test, leaving any
// variable not overridden as a free symbolic slot for the runtime.
func overlayVars(base descriptor.RequestTemplate, overrides map[string]string) (descriptor.RequestTemplate, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	env := variable.NewEnvironment()
	for k, v := range overrides {
		env.Set(k, v)
	}

	ground := base
	ground.Path = substituteKnown(env, base.Path)
	if base.Headers != nil {
		ground.Headers = make(map[string]string, len(base.Headers))
		for k, v := range base.Headers {
			ground.Headers[k] = substituteKnown(env, v)
		}
	}
	ground.Body = substituteKnownAny(env, base.Body)
	return ground, nil
}

// substituteKnown replaces only the placeholders present in env, leaving
// any other $var reference untouched (it is not yet an error: it may be
// resolved later by the runtime or may legitimately remain free).
func substituteKnown(env *variable.Environment, text string) string {
	result := text
	for _, name := range variable.ReferencedNames(text) {
		if v, ok := env.Get(name); ok {
			result = strings.ReplaceAll(result, "${"+name+"}", v)
			result = strings.ReplaceAll(result, "$"+name, v)
		}
	}
	return result
}

func substituteKnownAny(env *variable.Environment, v any) any {
	switch t := v.(type) {
	case string:
		return substituteKnown(env, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[substituteKnown(env, k)] = substituteKnownAny(env, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = substituteKnownAny(env, val)
		}
		return out
	default:
		return v
	}
}

// enumerationVarsInRequest finds which $var references in the (still
// symbolic) ground request are declared as enumerations in the catalogue.
func enumerationVarsInRequest(req descriptor.RequestTemplate, cat *variable.Catalogue) []string {
	enumSet := make(map[string]bool)
	for _, name := range cat.EnumerationNames() {
		enumSet[name] = true
	}

	seen := make(map[string]bool)
	var found []string
	consider := func(text string) {
		for _, name := range variable.ReferencedNames(text) {
			if enumSet[name] && !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	consider(req.Path)
	for _, v := range req.Headers {
		consider(v)
	}
	considerAny(req.Body, consider)
	sort.Strings(found)
	return found
}

func considerAny(v any, consider func(string)) {
	switch t := v.(type) {
	case string:
		consider(t)
	case map[string]any:
		for k, val := range t {
			consider(k)
			considerAny(val, consider)
		}
	case []any:
		for _, val := range t {
			considerAny(val, consider)
		}
	}
}

func buildConcreteAPI(d *descriptor.Descriptor, resp *descriptor.ResponseDescriptor, test descriptor.Test, ground descriptor.RequestTemplate, combo variable.Combination, k int) (*ConcreteAPI, error) {
	groundedRequest := groundCombination(ground, combo)

	name := d.Name
	if len(d.Responses) > 1 {
		name = fmt.Sprintf("%s@%d", name, resp.Status)
	}
	if test.Name != "" && test.Name != "default" {
		name = fmt.Sprintf("%s~%s", name, test.Name)
	}
	if k > 0 {
		name = fmt.Sprintf("%s-%d", name, k)
	}

	consumes := make(map[string]bool)
	for _, n := range variable.ReferencedNames(groundedRequest.Path) {
		consumes[n] = true
	}
	for _, v := range groundedRequest.Headers {
		for _, n := range variable.ReferencedNames(v) {
			consumes[n] = true
		}
	}
	considerAny(groundedRequest.Body, func(s string) {
		for _, n := range variable.ReferencedNames(s) {
			consumes[n] = true
		}
	})
	for _, n := range d.Extra.Consumes {
		consumes[n] = true
	}

	produces := make(map[string]bool)
	for _, n := range d.Extra.Produces {
		produces[n] = true
	}
	deletes := make(map[string]bool)

	actions := resp.Actions
	for _, vs := range actions.VarSets {
		produces[vs.Name] = true
	}
	if actions.VarNew != nil {
		produces[actions.VarNew.Name] = true
	}
	for _, r := range actions.VarRenames {
		produces[r.To] = true
		deletes[r.From] = true
	}
	for _, del := range actions.VarDeletes {
		deletes[del] = true
	}

	var varNew *descriptor.VarNew
	if actions.VarNew != nil {
		vn := *actions.VarNew
		if len(vn.SerialVars) == 0 {
			vn.SerialVars = textualVarsInBody(groundedRequest.Body)
		}
		varNew = &vn
	}

	serialVars := resp.SerialVars
	if varNew != nil && len(serialVars) == 0 {
		serialVars = varNew.SerialVars
	}

	onBeforeRun := pickHooks(test.OnBeforeRun, d.OnBeforeRun)
	before := pickHooks(test.Before, d.Before)
	afterAPI := pickHooks(test.AfterAPI, d.AfterAPI)
	afterAll := pickHooks(test.AfterAll, d.AfterAll)
	onAfterRun := pickHooks(test.OnAfterRun, d.OnAfterRun)

	return &ConcreteAPI{
		Name:           name,
		DescriptorName: d.Name,
		Groups:         d.Groups,
		Request:        groundedRequest,
		ExpectedStatus: resp.Status,
		Response:       resp,
		Consumes:       consumes,
		Produces:       produces,
		Deletes:        deletes,
		Actions:        actions,
		VarNew:         varNew,
		SerialVars:     serialVars,
		OnBeforeRun:    onBeforeRun,
		Before:         before,
		AfterAPI:       afterAPI,
		AfterAll:       afterAll,
		OnAfterRun:     onAfterRun,
		combination:    combo,
	}, nil
}

// pickHooks implements the "test then descriptor" ??= precedence: if the
// test declares any hooks for this chain, they win outright; otherwise the
// descriptor's chain is used.
func pickHooks(testHooks, descriptorHooks []descriptor.Hook) []descriptor.Hook {
	if len(testHooks) > 0 {
		return testHooks
	}
	return descriptorHooks
}

// groundCombination substitutes one enumeration combination's values into
// the request template, leaving any other $var symbolic.
func groundCombination(req descriptor.RequestTemplate, combo variable.Combination) descriptor.RequestTemplate {
	if len(combo) == 0 {
		return req
	}
	env := variable.NewEnvironment()
	for k, v := range combo {
		env.Set(k, v)
	}
	out := req
	out.Path = substituteKnown(env, req.Path)
	if req.Headers != nil {
		out.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			out.Headers[k] = substituteKnown(env, v)
		}
	}
	out.Body = substituteKnownAny(env, req.Body)
	return out
}

// textualVarsInBody returns the set of variable names textually present in
// the request body, the default serial_vars for a var_new action.
func textualVarsInBody(body any) []string {
	seen := make(map[string]bool)
	var names []string
	considerAny(body, func(s string) {
		for _, n := range variable.ReferencedNames(s) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	})
	sort.Strings(names)
	return names
}
