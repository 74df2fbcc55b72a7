package reportdriver

import "testing"

func TestToUSDate(t *testing.T) {
	got, err := ToUSDate("2026-02-06")
	if err != nil {
		t.Fatalf("ToUSDate() error: %v", err)
	}
	if got != "02-06-2026" {
		t.Errorf("ToUSDate() = %q, want 02-06-2026", got)
	}
}

func TestToUSDate_InvalidInput(t *testing.T) {
	if _, err := ToUSDate("not-a-date"); err == nil {
		t.Error("expected an error for an unparseable date")
	}
}

func TestToShortUSDate(t *testing.T) {
	got, err := ToShortUSDate("2026-02-06")
	if err != nil {
		t.Fatalf("ToShortUSDate() error: %v", err)
	}
	if got != "2/6/26" {
		t.Errorf("ToShortUSDate() = %q, want 2/6/26", got)
	}
}

func TestToShortUSDate_NoLeadingZeros(t *testing.T) {
	got, err := ToShortUSDate("2026-11-23")
	if err != nil {
		t.Fatalf("ToShortUSDate() error: %v", err)
	}
	if got != "11/23/26" {
		t.Errorf("ToShortUSDate() = %q, want 11/23/26", got)
	}
}
