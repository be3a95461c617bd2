package keys

import (
	"regexp"
	"strings"
	"testing"
)

var allowed = regexp.MustCompile(`^[A-Za-z0-9:_\-]+$`)

func TestIndexKey_Layout(t *testing.T) {
	got := IndexKey("flood", 6, "8626c9a4fffffff")
	if got != "geoq:idx:flood:r6:8626c9a4fffffff" {
		t.Fatalf("IndexKey=%s", got)
	}
	if !strings.HasPrefix(got, strings.TrimSuffix(IndexPattern("flood"), "*")) {
		t.Fatalf("pattern %s does not cover %s", IndexPattern("flood"), got)
	}
	if IndexPattern("") != "geoq:idx:*" {
		t.Fatalf("all-types pattern=%s", IndexPattern(""))
	}
}

func TestEntryKey_RoundTripAndSanitized(t *testing.T) {
	id := "3f7a2c1e-9b0d-4c1a-8e2f-0a1b2c3d4e5f"
	k := EntryKey(id)
	back, ok := IDFromEntryKey(k)
	if !ok || back != id {
		t.Fatalf("round trip %q -> %q (%v)", k, back, ok)
	}

	// a hostile id must not escape into another key segment
	k = EntryKey(" a:b  cé* ")
	if !allowed.MatchString(k) {
		t.Fatalf("key contains disallowed characters: %s", k)
	}
	if strings.Count(k, ":") != 2 {
		t.Fatalf("id leaked a separator: %s", k)
	}
	if strings.Contains(k, "--") || strings.Contains(k, "__") {
		t.Fatalf("runs should collapse: %s", k)
	}
}
