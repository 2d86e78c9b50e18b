// Package variable implements the variable environment: the mapping of
// variable name to definition, including the fixed-point textual
// substitution pass used both at load time (to materialise literal values)
// and at runtime (to ground request templates).
package variable

import (
	"encoding/base64"
	"fmt"
)

// Kind distinguishes the shape of a Variable's declared value.
type Kind int

const (
	// KindUndeclared has no value at all; its presence in the environment
	// (e.g. because a prior API produced it) is what satisfies dependencies.
	KindUndeclared Kind = iota
	// KindScalar is a literal string value.
	KindScalar
	// KindEnumeration is a list of candidate values the planner explodes
	// via Cartesian product.
	KindEnumeration
	// KindTemplate is a textual template referencing other variables
	// ($name or ${name}) resolved by fixed-point substitution.
	KindTemplate
	// KindComputed is a value derived from another variable by a named
	// transform, e.g. base64 encoding.
	KindComputed
)

// Transform names a computed-value function. Only a closed set is
// recognised; unknown transforms are a load error.
type Transform string

const (
	TransformBase64 Transform = "base64"
	TransformNone   Transform = ""
)

// Variable is a named entry in the catalogue loaded at startup.
type Variable struct {
	Name        string
	Description string
	Kind        Kind
	Scalar      string
	Enum        []string
	Template    string
	Transform   Transform
	// Of is the source variable name for KindComputed.
	Of string
}

// ApplyTransform computes a KindComputed variable's value from its source.
func ApplyTransform(transform Transform, source string) (string, error) {
	switch transform {
	case TransformBase64:
		return base64.StdEncoding.EncodeToString([]byte(source)), nil
	case TransformNone:
		return source, nil
	default:
		return "", fmt.Errorf("unknown variable transform %q", transform)
	}
}
