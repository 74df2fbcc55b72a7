package authgate

import "testing"

func TestTitleIndicatesChallenge(t *testing.T) {
	cases := map[string]bool{
		"Just a moment...":         true,
		"JUST A MOMENT":            true,
		"Toast - Reports":          false,
		"":                         false,
	}
	for title, want := range cases {
		if got := titleIndicatesChallenge(title); got != want {
			t.Errorf("titleIndicatesChallenge(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestURLIndicatesLoggedOut(t *testing.T) {
	if !urlIndicatesLoggedOut("https://www.toasttab.com/login") {
		t.Error("expected /login URL to indicate logged out")
	}
	if urlIndicatesLoggedOut("https://www.toasttab.com/restaurants/admin/reports/home") {
		t.Error("expected reports URL to not indicate logged out")
	}
}

func TestURLIndicatesAuthenticated(t *testing.T) {
	if !urlIndicatesAuthenticated("https://www.toasttab.com/restaurants/admin/reports/home#sales-order-details") {
		t.Error("expected reports URL to indicate authenticated")
	}
	if urlIndicatesAuthenticated("https://www.toasttab.com/login") {
		t.Error("expected login URL to not indicate authenticated")
	}
}
