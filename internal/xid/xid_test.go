package xid

import (
	"strings"
	"testing"
)

func TestNewKeepsPrefixAndIsUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")
	if !strings.HasPrefix(a, "sale-") {
		t.Fatalf("expected sale- prefix, got %s", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
}
