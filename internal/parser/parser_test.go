package parser

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jmylchreest/toastextract/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseDecimal(t *testing.T) {
	cases := map[string]string{
		"$12.34":  "12.34",
		"-5.00":   "-5",
		"1,234.5": "1234.5",
	}
	for in, want := range cases {
		got := parseDecimal(in)
		if got == nil || !got.Equal(dec(want)) {
			t.Errorf("parseDecimal(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "-", ".", "-."} {
		if got := parseDecimal(in); got != nil {
			t.Errorf("parseDecimal(%q) = %v, want nil", in, got)
		}
	}
}

func TestParseInt(t *testing.T) {
	if got := parseInt("Check #4821"); got == nil || *got != 4821 {
		t.Errorf("parseInt() = %v, want 4821", got)
	}
	if got := parseInt("no digits here"); got != nil {
		t.Errorf("parseInt() = %v, want nil", got)
	}
}

func TestNormalizePaymentType(t *testing.T) {
	cases := map[string]string{
		"Visa Credit Card":  "credit",
		"Debit - Mastercard": "debit",
		"CASH":              "cash",
		"Gift Card #123":    "Gift Card",
		"Venmo":             "Venmo",
	}
	for in, want := range cases {
		if got := normalizePaymentType(in); got != want {
			t.Errorf("normalizePaymentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeServerValue(t *testing.T) {
	if got := sanitizeServerValue("Server: Alice Smith"); got != "Alice Smith" {
		t.Errorf("got %q", got)
	}
	if got := sanitizeServerValue("Kitchen Station 2"); got != "" {
		t.Errorf("expected station label rejected, got %q", got)
	}
	if got := sanitizeServerValue("Alice Smith Alice Smith"); got != "Alice Smith" {
		t.Errorf("expected doubled name collapsed, got %q", got)
	}
	if got := sanitizeServerValue("N/A"); got != "" {
		t.Errorf("expected N/A rejected, got %q", got)
	}
}

func TestComputeTurnoverMinutes(t *testing.T) {
	opened := "07/31/2026, 12:00:00 PM"
	closed := "07/31/2026, 12:45:00 PM"
	got := computeTurnoverMinutes(opened, closed)
	if got == nil || *got != 45.0 {
		t.Errorf("got %v, want 45.0", got)
	}

	// Closed before opened must be rejected.
	if got := computeTurnoverMinutes(closed, opened); got != nil {
		t.Errorf("expected nil for closed-before-opened, got %v", got)
	}
}

func TestExtractItems_PicksFirstMatchingTable(t *testing.T) {
	tables := []RawTable{
		{Headers: []string{"Name", "Approver"}, Rows: [][]string{{"Happy Hour", "Mgr"}}},
		{
			Headers: []string{"Menu Item", "Qty", "Price", "Total"},
			Rows: [][]string{
				{"Burger", "2", "9.00", "18.00"},
				{"", "1", "3.00", "3.00"},
			},
		},
	}
	items := ExtractItems(tables)
	if len(items) != 1 {
		t.Fatalf("expected 1 item (blank name filtered), got %d", len(items))
	}
	if items[0].ItemName != "Burger" {
		t.Errorf("ItemName = %q", items[0].ItemName)
	}
	if items[0].Quantity == nil || !items[0].Quantity.Equal(dec("2")) {
		t.Errorf("Quantity = %v", items[0].Quantity)
	}
}

func TestExtractPayments_DerivesCardDetailsFromTenderText(t *testing.T) {
	tables := []RawTable{
		{
			Headers: []string{"Payment Method", "Amount"},
			Rows:    [][]string{{"Visa ending in 4242", "25.00"}},
		},
	}
	payments := ExtractPayments(tables)
	if len(payments) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(payments))
	}
	if payments[0].CardLast4 != "4242" {
		t.Errorf("CardLast4 = %q, want 4242", payments[0].CardLast4)
	}
}

func TestValidate_FlagsTotalMismatchBeyondTolerance(t *testing.T) {
	subtotal, tax, tip, gratuity, discount, total := dec("10.00"), dec("1.00"), dec("2.00"), dec("0.00"), dec("0.00"), dec("20.00")
	detail := &model.CheckDetail{
		Subtotal: &subtotal, Tax: &tax, Tip: &tip, Gratuity: &gratuity, Discount: &discount, Total: &total,
	}
	errs := Validate(detail)
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error for a $7 mismatch, got %v", errs)
	}
}

func TestValidate_WithinToleranceIsClean(t *testing.T) {
	subtotal, tax, tip, gratuity, discount, total := dec("10.00"), dec("1.00"), dec("2.00"), dec("0.00"), dec("0.00"), dec("13.03")
	detail := &model.CheckDetail{
		Subtotal: &subtotal, Tax: &tax, Tip: &tip, Gratuity: &gratuity, Discount: &discount, Total: &total,
	}
	if errs := Validate(detail); len(errs) != 0 {
		t.Errorf("expected no validation errors within $0.05 tolerance, got %v", errs)
	}
}
