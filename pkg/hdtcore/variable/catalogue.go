package variable

import (
	"fmt"
	"sort"
)

// Catalogue is the declared set of Variables loaded from the manifests
//. It is resolved once at load time into a base
// Environment carrying literal/template/computed values; enumerations are
// left for the planner/runtime to explode into combinations.
type Catalogue struct {
	vars map[string]*Variable
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{vars: make(map[string]*Variable)}
}

// Declare adds or replaces a variable definition.
func (c *Catalogue) Declare(v *Variable) {
	c.vars[v.Name] = v
}

// Lookup returns the declared Variable, if any.
func (c *Catalogue) Lookup(name string) (*Variable, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// EnumerationNames returns the sorted names of every variable declared as
// an enumeration, used by descriptor expansion to find axes to explode.
func (c *Catalogue) EnumerationNames() []string {
	var names []string
	for name, v := range c.vars {
		if v.Kind == KindEnumeration {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Resolve materialises every non-enumeration variable's literal value into
// env via fixed-point substitution. Enumerations are left undefined here:
// callers pick one candidate value per combination and Set it directly
// before request substitution.
//
// A cyclic set of template definitions is a fatal load error, surfaced here
// as an error rather than left to runtime substitution.
func (c *Catalogue) Resolve() (*Environment, error) {
	env := NewEnvironment()

	// Every pending variable is tried on each pass, in map order; one whose
	// references are not bound yet waits for a later pass. Stop when
	// nothing is pending or a pass binds nothing new.
	pending := make(map[string]*Variable)
	for name, v := range c.vars {
		if v.Kind == KindEnumeration {
			continue
		}
		pending[name] = v
	}

	for pass := 0; pass < MaxSubstitutionPasses; pass++ {
		progressed := false
		for name, v := range pending {
			value, ok, err := c.renderOnce(v, env)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if cur, has := env.Get(name); !has || cur != value {
				env.Set(name, value)
				progressed = true
			}
			delete(pending, name)
		}
		if len(pending) == 0 {
			return env, nil
		}
		if !progressed {
			break
		}
	}

	if len(pending) > 0 {
		names := make([]string, 0, len(pending))
		for n := range pending {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("cyclic or unresolvable variable definitions: %v", names)
	}
	return env, nil
}

// renderOnce attempts to compute v's value given the variables already
// bound in env. ok is false when v depends on a variable not yet resolved
// (caller should retry on a later pass).
func (c *Catalogue) renderOnce(v *Variable, env *Environment) (value string, ok bool, err error) {
	switch v.Kind {
	case KindScalar:
		return v.Scalar, true, nil
	case KindTemplate:
		for _, ref := range ReferencedNames(v.Template) {
			if !env.Has(ref) {
				if _, declared := c.vars[ref]; !declared {
					return "", false, fmt.Errorf("variable %q references undefined variable %q", v.Name, ref)
				}
				return "", false, nil
			}
		}
		rendered, err := env.Substitute(v.Template)
		if err != nil {
			return "", false, err
		}
		return rendered, true, nil
	case KindComputed:
		src, has := env.Get(v.Of)
		if !has {
			if _, declared := c.vars[v.Of]; !declared {
				return "", false, fmt.Errorf("variable %q computed from undefined variable %q", v.Name, v.Of)
			}
			return "", false, nil
		}
		rendered, err := ApplyTransform(v.Transform, src)
		if err != nil {
			return "", false, err
		}
		return rendered, true, nil
	case KindUndeclared:
		return "", true, nil
	default:
		return "", false, fmt.Errorf("variable %q has unrecognised kind", v.Name)
	}
}

// Combination is one assignment of enumeration variables to candidate
// values, keyed by variable name.
type Combination map[string]string

// Combinations computes the Cartesian product of candidate values for the
// given enumeration variable names, sorted deterministically.
func (c *Catalogue) Combinations(names []string) ([]Combination, error) {
	if len(names) == 0 {
		return []Combination{{}}, nil
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	combos := []Combination{{}}
	for _, name := range sorted {
		v, ok := c.vars[name]
		if !ok || v.Kind != KindEnumeration {
			return nil, fmt.Errorf("variable %q is not a declared enumeration", name)
		}
		var next []Combination
		for _, base := range combos {
			for _, candidate := range v.Enum {
				combo := make(Combination, len(base)+1)
				for k, val := range base {
					combo[k] = val
				}
				combo[name] = candidate
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos, nil
}
