package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Unique(t *testing.T) {
	// WHAT: Successive IDs are distinct and parseable.
	// WHY: Interaction rows use these as primary keys.
	gen := UUIDv7()
	seen := make(map[string]bool)
	for n := 0; n < 100; n++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
		if _, err := Parse(id); err != nil {
			t.Fatalf("generated ID does not parse: %v", err)
		}
	}
}

func TestPrefixed(t *testing.T) {
	// WHAT: Prefixed composes a fixed prefix onto the inner generator.
	// WHY: Event and job IDs carry type-scoped prefixes for log greppability.
	gen := Prefixed("evt_", Default)
	id := gen()
	if !strings.HasPrefix(id, "evt_") {
		t.Errorf("id %q missing evt_ prefix", id)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	// WHAT: Parse returns an error for non-UUID input.
	// WHY: IDs arrive from HTTP paths and must be validated.
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Error("expected error for invalid UUID")
	}
}
