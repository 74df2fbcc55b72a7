package pagination

import "testing"

func TestPaginationSummaryRe(t *testing.T) {
	m := paginationSummaryRe.FindStringSubmatch("Showing 1 through 25 of 137 entries")
	if m == nil {
		t.Fatal("expected pagination summary text to match")
	}
	if m[1] != "1" || m[2] != "25" || m[3] != "137" {
		t.Errorf("got start=%s end=%s total=%s, want 1/25/137", m[1], m[2], m[3])
	}
}

func TestPaginationSummaryRe_NoMatch(t *testing.T) {
	if paginationSummaryRe.FindStringSubmatch("No results") != nil {
		t.Error("expected no match for non-pagination text")
	}
}

func TestRowSignatureKey_IsOrderIndependent(t *testing.T) {
	a := rowSignatureKey(map[string]string{"b": "2", "a": "1"})
	b := rowSignatureKey(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Errorf("expected signature to be independent of map iteration order: %q != %q", a, b)
	}
}

func TestRowSignatureKey_DiffersOnValue(t *testing.T) {
	a := rowSignatureKey(map[string]string{"a": "1"})
	b := rowSignatureKey(map[string]string{"a": "2"})
	if a == b {
		t.Error("expected different values to produce different signatures")
	}
}
