// Package model holds the canonical data types produced by the scraping
// engine: the per-check record keyed by payment identifier, its nested
// detail, and the small satellite documents (menu summary rows, progress
// snapshots) persisted alongside the state file.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckRecord is the primary entity, keyed by PaymentID.
type CheckRecord struct {
	PaymentID   string            `json:"payment_id"`
	Metadata    map[string]string `json:"metadata"`
	Data        *CheckDetail      `json:"data"`
	Complete    bool              `json:"complete"`
	Attempts    int               `json:"attempts"`
	LastError   *string           `json:"last_error"`
	ExtractedAt *time.Time        `json:"extracted_at"`
	ParsedURL   string            `json:"parsed_url"`
}

// CheckDetail is the nested, parsed payload for one check.
type CheckDetail struct {
	CheckNumber  *int     `json:"check_number,omitempty"`
	TimeOpened   *string  `json:"time_opened,omitempty"`
	TimeClosed   *string  `json:"time_closed,omitempty"`
	TurnoverTime *float64 `json:"turnover_time,omitempty"`

	Server        *string `json:"server,omitempty"`
	Table         *string `json:"table,omitempty"`
	GuestCount    *int    `json:"guest_count,omitempty"`
	RevenueCenter *string `json:"revenue_center,omitempty"`

	Subtotal *decimal.Decimal `json:"subtotal,omitempty"`
	Tax      *decimal.Decimal `json:"tax,omitempty"`
	Tip      *decimal.Decimal `json:"tip,omitempty"`
	Gratuity *decimal.Decimal `json:"gratuity,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
	Total    *decimal.Decimal `json:"total,omitempty"`

	Items     []LineItem `json:"items"`
	Payments  []Payment  `json:"payments"`
	Discounts []Discount `json:"discounts"`

	ValidationErrors []string `json:"validation_errors"`
	Complete         bool     `json:"complete"`
}

// LineItem is one row of a check's items table.
type LineItem struct {
	ItemName         string           `json:"item_name"`
	Modifiers        string           `json:"modifiers,omitempty"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unit_price,omitempty"`
	Discount         *decimal.Decimal `json:"discount,omitempty"`
	LineTotal        *decimal.Decimal `json:"line_total,omitempty"`
	LineTax          *decimal.Decimal `json:"line_tax,omitempty"`
	LineTotalWithTax *decimal.Decimal `json:"line_total_with_tax,omitempty"`
	Voided           bool             `json:"voided"`
	Reason           string           `json:"reason,omitempty"`
}

// PaymentType enumerates the normalized payment-type buckets. Anything that
// does not match a known keyword is preserved as the cleaned raw string.
type PaymentType string

const (
	PaymentCredit   PaymentType = "credit"
	PaymentDebit    PaymentType = "debit"
	PaymentCash     PaymentType = "cash"
	PaymentGiftCard PaymentType = "Gift Card"
)

// Payment is one row of a check's payments table.
type Payment struct {
	PaymentType string           `json:"payment_type"`
	PaymentDate string           `json:"payment_date,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Tip         *decimal.Decimal `json:"tip,omitempty"`
	Gratuity    *decimal.Decimal `json:"gratuity,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
	Refund      *decimal.Decimal `json:"refund,omitempty"`
	Status      string           `json:"status,omitempty"`
	CardType    string           `json:"card_type,omitempty"`
	CardLast4   string           `json:"card_last_4,omitempty"`
}

// Discount is one row of a check's discounts table.
type Discount struct {
	Name        string           `json:"name"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	AppliedDate *string          `json:"applied_date,omitempty"`
	Approver    string           `json:"approver,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// MenuSummaryRow is a verbatim label->value mapping extracted from the Menu
// Item Summary table, used for reconciliation rather than as a primary
// record.
type MenuSummaryRow map[string]string

// ProgressSnapshot is the small aggregate document written after each
// state-file save so an external monitor can poll run health cheaply.
type ProgressSnapshot struct {
	RunID      string    `json:"run_id"`
	UpdatedAt  time.Time `json:"updated_at"`
	Total      int       `json:"total"`
	Complete   int       `json:"complete"`
	Incomplete int       `json:"incomplete"`
	Errored    int       `json:"errored"`
}

// ErrorEvent is one line of the append-only JSONL error log.
type ErrorEvent struct {
	TS        time.Time `json:"ts"`
	RunID     string    `json:"run_id"`
	PaymentID string    `json:"payment_id"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
}
