// Package idgen generates the identifiers used across the daemon:
// verification request ids and page ids. Constructors accept a Generator
// so tests can substitute deterministic ids.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings.
// Time-sortable, so request ids sort in issue order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every id from gen. Used for
// type-scoped identifiers ("req_", "page_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the daemon-wide default strategy.
var Default Generator = UUIDv7()

// New produces an id using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string, returning its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
