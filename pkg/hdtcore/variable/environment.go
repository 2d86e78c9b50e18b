package variable

import (
	"fmt"
	"regexp"
	"sort"
)

// MaxSubstitutionPasses bounds the fixed-point substitution loop. A round that still changes text after this many passes is a cyclic
// reference and is a fatal load/substitution error.
const MaxSubstitutionPasses = 50

// placeholderPattern matches $name or ${name} references. Names are
// restricted to the usual identifier charset.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Environment is the current variable-name -> value mapping flowing down
// the plan tree. One Environment is owned per Run Context; siblings always
// receive independent deep copies.
type Environment struct {
	values map[string]string
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{values: make(map[string]string)}
}

// Clone returns an independent deep copy, used whenever the runtime forks
// the environment across sibling subtrees.
func (e *Environment) Clone() *Environment {
	cp := make(map[string]string, len(e.values))
	for k, v := range e.values {
		cp[k] = v
	}
	return &Environment{values: cp}
}

// Get returns the value bound to name and whether it is present. Presence
// alone is what dependency satisfaction checks against.
func (e *Environment) Get(name string) (string, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Has reports whether name is bound in the environment, regardless of
// whether it carries a literal value.
func (e *Environment) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// Set binds name to value.
func (e *Environment) Set(name, value string) {
	e.values[name] = value
}

// Delete removes name, implementing var_delete / the "from" side of
// var_rename.
func (e *Environment) Delete(name string) {
	delete(e.values, name)
}

// Rename moves the value at from to to and removes from, the runtime
// behaviour of var_rename.
func (e *Environment) Rename(from, to string) error {
	v, ok := e.values[from]
	if !ok {
		return fmt.Errorf("var_rename: source variable %q is not defined", from)
	}
	e.values[to] = v
	delete(e.values, from)
	return nil
}

// Names returns a stably sorted snapshot of bound variable names, for
// callers that need deterministic iteration (e.g. seeding the planner's
// predefined set).
func (e *Environment) Names() []string {
	names := make([]string, 0, len(e.values))
	for k := range e.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Substitute replaces every $name/${name} occurrence in text with its bound
// value, iterating to a fixed point. It returns an error if a
// referenced name is not bound (fatal at substitution time) or if the text
// has not converged after MaxSubstitutionPasses (cyclic reference).
func (e *Environment) Substitute(text string) (string, error) {
	current := text
	for pass := 0; pass < MaxSubstitutionPasses; pass++ {
		next, changed, err := e.substituteOnce(current)
		if err != nil {
			return "", err
		}
		if !changed {
			return next, nil
		}
		current = next
	}
	return "", fmt.Errorf("substitution did not converge after %d passes (cyclic reference?) on %q", MaxSubstitutionPasses, text)
}

func (e *Environment) substituteOnce(text string) (string, bool, error) {
	changed := false
	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		value, ok := e.values[name]
		if !ok {
			firstErr = fmt.Errorf("undefined variable %q referenced in %q", name, text)
			return match
		}
		changed = true
		return value
	})
	if firstErr != nil {
		return "", false, firstErr
	}
	return result, changed, nil
}

// ReferencedNames returns the set of $name/${name} references appearing in
// text, used by descriptor expansion to compute `consumes`.
func ReferencedNames(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
