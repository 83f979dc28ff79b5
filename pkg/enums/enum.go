// Package enums holds the string enums persisted in Postgres enum columns.
package enums

import (
	"fmt"
	"slices"
)

// domain is the closed set of values one enum type accepts.
type domain[T ~string] struct {
	kind   string
	values []T
}

func newDomain[T ~string](kind string, values ...T) domain[T] {
	return domain[T]{kind: kind, values: values}
}

func (d domain[T]) has(v T) bool {
	return slices.Contains(d.values, v)
}

func (d domain[T]) parse(raw string) (T, error) {
	if v := T(raw); d.has(v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", d.kind, raw)
}
