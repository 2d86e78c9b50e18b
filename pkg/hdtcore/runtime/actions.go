package runtime

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/expand"
)

// applyActions performs var_set / var_new / var_rename / var_delete on
// rc.Env using the just-received response. Runs only after
// a successful main request.
func (r *Runtime) applyActions(rc *RunContext, api *expand.ConcreteAPI) error {
	actions := api.Actions

	for _, vs := range actions.VarSets {
		value, err := resolveFieldValue(rc, vs.Path, vs.Value)
		if err != nil {
			return fmt.Errorf("var_set %q: %w", vs.Name, err)
		}
		rc.Env.Set(vs.Name, value)
	}

	if api.VarNew != nil {
		vn := api.VarNew
		value, err := resolveFieldValue(rc, vn.Path, "")
		if err != nil {
			return fmt.Errorf("var_new %q: %w", vn.Name, err)
		}
		rc.Env.Set(vn.Name, value)
	}

	for _, ren := range actions.VarRenames {
		if err := rc.Env.Rename(ren.From, ren.To); err != nil {
			return fmt.Errorf("var_rename: %w", err)
		}
	}

	for _, del := range actions.VarDeletes {
		rc.Env.Delete(del)
	}

	return nil
}

// resolveFieldValue extracts a value either by dotted JSON path into the
// parsed response body, or (if literal is non-empty) by substituting a
// textual template against the environment.
func resolveFieldValue(rc *RunContext, path, literal string) (string, error) {
	if literal != "" {
		return rc.Env.Substitute(literal)
	}
	return extractPath(rc.parsedBody, path)
}

// extractPath walks a dotted JSON path into a parsed JSON document. A segment of "[]" iterates the array at that position, yielding
// a JSON array of the values extracted from every element; an empty array
// under "[]" is fatal. Numeric segments index arrays directly.
func extractPath(doc any, path string) (string, error) {
	if path == "" {
		return stringifyLeaf(doc)
	}
	return extractSegments(doc, path, strings.Split(path, "."))
}

func extractSegments(doc any, fullPath string, segments []string) (string, error) {
	cur := doc
	for i, seg := range segments {
		if seg == "[]" {
			arr, ok := cur.([]any)
			if !ok {
				return "", fmt.Errorf("path %q: [] applied to non-array", fullPath)
			}
			if len(arr) == 0 {
				return "", fmt.Errorf("path %q: [] applied to empty array", fullPath)
			}
			var collected []string
			for _, elem := range arr {
				v, err := extractSegments(elem, fullPath, segments[i+1:])
				if err != nil {
					return "", err
				}
				collected = append(collected, v)
			}
			return "[" + strings.Join(quoteAll(collected), ",") + "]", nil
		}
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return "", fmt.Errorf("path %q: field %q not present", fullPath, seg)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("path %q: invalid array index %q", fullPath, seg)
			}
			cur = node[idx]
		default:
			return "", fmt.Errorf("path %q: cannot descend into scalar at %q", fullPath, seg)
		}
	}
	return stringifyLeaf(cur)
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.Quote(v)
	}
	return out
}

func stringifyLeaf(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", fmt.Errorf("value is null")
	default:
		return "", fmt.Errorf("value is not a scalar: %T", v)
	}
}

// serialQueues enforces per-resource mutual exclusion:
// concurrent sibling subtrees that happen to construct "the same" named
// resource (same serial_vars assignment) are serialised against each
// other; distinct keys proceed independently. Each key is guarded by a
// plain sync.Mutex, so waiters on one key are not granted it in arrival
// (FIFO) order; the order among them is not defined.
type serialQueues struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSerialQueues() serialQueues {
	return serialQueues{locks: make(map[string]*sync.Mutex)}
}

// acquireSerial computes api's serialisation key from its SerialVars bound
// in rc.Env and locks the corresponding process-wide mutex, returning the
// release function. A declared serial var with no value in the environment
// is fatal. Returns a nil release if api declares no serial_vars.
func (r *Runtime) acquireSerial(rc *RunContext, api *expand.ConcreteAPI) (func(), error) {
	if len(api.SerialVars) == 0 {
		return nil, nil
	}
	key, err := serialKey(rc, api.SerialVars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", api.Name, err)
	}

	r.queues.mu.Lock()
	lock, ok := r.queues.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.queues.locks[key] = lock
	}
	r.queues.mu.Unlock()

	lock.Lock()
	return lock.Unlock, nil
}

// serialKey joins name=value pairs of the declared serial_vars in sorted
// order, so two requests naming "the same" resource collide on the same
// queue regardless of declaration order.
func serialKey(rc *RunContext, serialVars []string) (string, error) {
	names := append([]string(nil), serialVars...)
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		v, ok := rc.Env.Get(name)
		if !ok {
			return "", fmt.Errorf("serial var %q has no value in the environment", name)
		}
		parts = append(parts, name+"="+v)
	}
	return strings.Join(parts, ","), nil
}
