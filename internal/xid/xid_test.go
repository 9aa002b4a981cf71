package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("req")
	b := New("req")
	if !strings.HasPrefix(a, "req-") {
		t.Fatalf("expected req- prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
	if len(a) != len("req-")+16 {
		t.Fatalf("unexpected id length %d", len(a))
	}
}

func TestValid(t *testing.T) {
	if !Valid(New("req")) {
		t.Fatalf("generated ids must be valid")
	}
	for _, bad := range []string{"", "has space", "line\nbreak", strings.Repeat("a", 65)} {
		if Valid(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
