// Package parser turns the raw DOM payload captured from an order-details
// page into a model.CheckDetail, using the same field-fusion precedence
// chain as the Python original's map_detail_payload: structured table/pair
// extraction first, then free-text regex fallback, then the row metadata
// captured during pagination, finally a derived value computed from
// sibling fields already resolved. Every monetary field is a
// shopspring/decimal.Decimal so the ≤$0.05 reconciliation check in
// Validate is exact rather than float-fuzzy.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmylchreest/toastextract/internal/model"
)

// RawTable is one <table> captured from the page: normalized header cells
// and the raw text of every body cell, mirroring the {headers, rows}
// shape built by the in-page evaluate() script.
type RawTable struct {
	Headers []string
	Rows    [][]string
}

// RawPayload is the full evaluate() result captured from an order-details
// check page: label/value pairs harvested from two-column rows and <dl>
// elements, every <table> on the page, the two small summary blocks Toast
// renders next to the check, and the full body text (used as a last-
// resort regex source).
type RawPayload struct {
	Pairs          map[string]string
	Tables         []RawTable
	BodyText       string
	Summary        map[string]string
	SummaryDetails map[string]string
}

var decimalCleanRe = regexp.MustCompile(`[^0-9.-]`)
var intRe = regexp.MustCompile(`-?\d+`)

// parseDecimal extracts a decimal amount from free-form text, stripping
// currency symbols and thousands separators, mirroring parse_decimal.
func parseDecimal(raw string) *decimal.Decimal {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	cleaned := decimalCleanRe.ReplaceAllString(text, "")
	switch cleaned {
	case "", "-", ".", "-.":
		return nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}
	return &d
}

// parseInt extracts the first signed integer found in text, mirroring
// parse_int.
func parseInt(raw string) *int {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	match := intRe.FindString(text)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}

// normalizePaymentType collapses the many ways Toast spells a tender type
// down to the model.PaymentType vocabulary, mirroring
// normalize_payment_type. An unrecognized tender is passed through as-is
// rather than discarded — the caller still wants to see it.
func normalizePaymentType(raw string) string {
	text := cleanText(raw)
	if text == "" {
		return ""
	}
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "gift") && strings.Contains(lowered, "card"):
		return string(model.PaymentGiftCard)
	case strings.Contains(lowered, "credit"):
		return string(model.PaymentCredit)
	case strings.Contains(lowered, "debit"):
		return string(model.PaymentDebit)
	case strings.Contains(lowered, "cash"):
		return string(model.PaymentCash)
	}
	return text
}

func cleanText(raw string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(raw), " "))
}

var datetimeFormats = []string{
	"01/02/2006, 3:04:05 PM",
	"01/02/2006, 3:04 PM",
	"01/02/06, 3:04:05 PM",
	"01/02/06, 3:04 PM",
	"01/02/2006 3:04:05 PM",
	"01/02/2006 3:04 PM",
	"01/02/06 3:04:05 PM",
	"01/02/06 3:04 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/06 15:04:05",
	"01/02/06 15:04",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 06 3:04:05 PM",
	"Jan 2, 06 3:04 PM",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	time.RFC3339,
	"2006-01-02T15:04:05.999999Z07:00",
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// parseDatetimeFlexible tries RFC3339 first, then a table of US and ISO
// formats, retrying once with commas stripped — mirroring
// parse_datetime_flexible's layered attempts.
func parseDatetimeFlexible(raw string) *time.Time {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	normalized := whitespaceRe.ReplaceAllString(strings.ReplaceAll(text, " at ", " "), " ")
	isoCandidate := strings.ReplaceAll(normalized, "Z", "+00:00")
	if t, err := time.Parse(time.RFC3339, isoCandidate); err == nil {
		return &t
	}
	for _, layout := range datetimeFormats {
		if t, err := time.Parse(layout, normalized); err == nil {
			return &t
		}
	}
	fallback := strings.ReplaceAll(normalized, ",", "")
	if fallback != normalized {
		for _, layout := range datetimeFormats {
			if t, err := time.Parse(layout, fallback); err == nil {
				return &t
			}
		}
	}
	return nil
}

// computeTurnoverMinutes returns the minutes between opened and closed,
// rounded to 2 decimal places, or nil if either timestamp is unparsable or
// closed precedes opened. Mirrors compute_turnover_minutes.
func computeTurnoverMinutes(opened, closed string) *float64 {
	openedAt := parseDatetimeFlexible(opened)
	closedAt := parseDatetimeFlexible(closed)
	if openedAt == nil || closedAt == nil {
		return nil
	}
	delta := closedAt.Sub(*openedAt).Seconds()
	if delta < 0 {
		return nil
	}
	minutes := roundTo(delta/60.0, 2)
	return &minutes
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	if v >= 0 {
		return float64(int64(v*shift+0.5)) / shift
	}
	return float64(int64(v*shift-0.5)) / shift
}

// pickValue returns the first value in pairs whose key contains one of
// candidates (case-insensitively), mirroring pick_value.
func pickValue(pairs map[string]string, candidates []string) string {
	for key, value := range pairs {
		normalized := strings.ToLower(key)
		for _, candidate := range candidates {
			if strings.Contains(normalized, candidate) && value != "" {
				return value
			}
		}
	}
	return ""
}

// pickMetadataValue is pickValue's counterpart over the row metadata map
// harvested during pagination, mirroring pick_metadata_value.
func pickMetadataValue(metadata map[string]string, candidates []string) string {
	if len(metadata) == 0 {
		return ""
	}
	lowered := make(map[string]string, len(metadata))
	for k, v := range metadata {
		lowered[strings.ToLower(k)] = v
	}
	for _, candidate := range candidates {
		needle := strings.ToLower(candidate)
		for key, value := range lowered {
			if strings.Contains(key, needle) {
				if text := strings.TrimSpace(value); text != "" {
					return text
				}
			}
		}
	}
	return ""
}

var serverStationRe = regexp.MustCompile(`(?i)station|device`)
var serverPrefixRe = regexp.MustCompile(`(?i)^(?:opened by\s+server|server)\s*:\s*`)
var serverLeadingPunctRe = regexp.MustCompile(`^[^A-Za-z0-9]+`)
var serverColonOnlyRe = regexp.MustCompile(`^[A-Za-z ]+:$`)
var serverHasAlnumRe = regexp.MustCompile(`[A-Za-z0-9]`)

// sanitizeServerValue cleans a candidate server name, rejecting values
// that are clearly station/device labels, parenthetical notes, or
// boilerplate rather than a person's name, and collapsing an accidental
// doubled name ("Alice Smith Alice Smith" → "Alice Smith"). Mirrors
// sanitize_server_value.
func sanitizeServerValue(raw string) string {
	text := whitespaceRe.ReplaceAllString(raw, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	text = serverLeadingPunctRe.ReplaceAllString(text, "")
	text = serverPrefixRe.ReplaceAllString(text, "")
	text = strings.Trim(text, " :-")
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	if serverStationRe.MatchString(lower) {
		return ""
	}
	if strings.Contains(text, "(") && strings.Contains(text, ")") {
		return ""
	}
	switch lower {
	case "none", "null", "n/a":
		return ""
	}
	if strings.Contains(lower, "opened by server") {
		return ""
	}
	if serverColonOnlyRe.MatchString(text) {
		return ""
	}
	if !serverHasAlnumRe.MatchString(text) {
		return ""
	}
	words := strings.Fields(text)
	if len(words) >= 4 && len(words)%2 == 0 {
		half := len(words) / 2
		if joinEqual(words[:half], words[half:]) {
			text = strings.Join(words[:half], " ")
		}
	}
	return text
}

func joinEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// regexPick tries each pattern against text in order and returns the
// first captured group that is non-empty, mirroring regex_pick.
func regexPick(text string, patterns []string) string {
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		match := re.FindStringSubmatch(text)
		if len(match) > 1 {
			if value := strings.TrimSpace(match[1]); value != "" {
				return value
			}
		}
	}
	return ""
}

var headerStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeHeader lowercases and collapses punctuation in a table header
// or candidate label so matching is resilient to casing and spacing
// differences, mirroring normalize_header.
func normalizeHeader(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = headerStripRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// pickRowValue returns the first non-blank value in a normalized-header
// row map whose header equals or contains one of candidates, mirroring
// pick_row_value.
func pickRowValue(mapped map[string]string, candidates []string) string {
	for _, candidate := range candidates {
		needle := normalizeHeader(candidate)
		for key, value := range mapped {
			keyText := normalizeHeader(key)
			if needle == keyText || strings.Contains(keyText, needle) {
				if strings.TrimSpace(value) != "" {
					return value
				}
			}
		}
	}
	return ""
}

func firstContaining(mapped map[string]string, needle string) string {
	for k, v := range mapped {
		if strings.Contains(normalizeHeader(k), needle) {
			return v
		}
	}
	return ""
}

func rowMap(headers []string, row []string) map[string]string {
	mapped := make(map[string]string, len(headers))
	n := len(headers)
	if len(row) < n {
		n = len(row)
	}
	for i := 0; i < n; i++ {
		mapped[headers[i]] = row[i]
	}
	return mapped
}

func hasAny(headers []string, needles ...string) bool {
	for _, h := range headers {
		for _, n := range needles {
			if strings.Contains(h, n) {
				return true
			}
		}
	}
	return false
}

// ExtractItems returns the line items from the first table whose headers
// look like an item+quantity breakdown, mirroring
// extract_items_from_tables.
func ExtractItems(tables []RawTable) []model.LineItem {
	for _, table := range tables {
		headers := normalizeHeaders(table.Headers)
		if len(headers) == 0 {
			continue
		}
		if !hasAny(headers, "item", "menu") || !hasAny(headers, "qty", "quantity") {
			continue
		}

		var items []model.LineItem
		for _, row := range table.Rows {
			mapped := rowMap(headers, row)
			name := pickRowValue(mapped, []string{"menu item", "item", "item name", "menu"})
			if name == "" {
				name = firstContaining(mapped, "item")
			}
			modifiers := pickRowValue(mapped, []string{"modifiers", "modifier"})

			quantity := parseDecimal(orFirst(pickRowValue(mapped, []string{"qty", "quantity", "item qty"}), firstContaining(mapped, "qty")))
			unitPrice := parseDecimal(orFirst(pickRowValue(mapped, []string{"price", "unit price", "avg price"}), firstContaining(mapped, "price")))
			lineDiscount := parseDecimal(orFirst(pickRowValue(mapped, []string{"discount", "discount amount"}), mapped["discount"]))
			if lineDiscount == nil {
				zero := decimal.Zero
				lineDiscount = &zero
			}
			lineTotalNet := parseDecimal(orFirst(pickRowValue(mapped, []string{"net", "line total", "subtotal"}), mapped["net"]))
			if lineTotalNet == nil && quantity != nil && unitPrice != nil {
				computed := quantity.Mul(*unitPrice).Sub(*lineDiscount).Round(2)
				lineTotalNet = &computed
			}
			lineTax := parseDecimal(orFirst(pickRowValue(mapped, []string{"tax", "item tax"}), firstContaining(mapped, "tax")))
			lineTotalWithTax := parseDecimal(orFirst(pickRowValue(mapped, []string{"total", "amount", "line total with tax", "gross amount"}), firstTotalOrAmount(mapped)))
			if lineTotalWithTax == nil && lineTotalNet != nil && lineTax != nil {
				computed := lineTotalNet.Add(*lineTax).Round(2)
				lineTotalWithTax = &computed
			}
			if lineTotalWithTax == nil {
				lineTotalWithTax = lineTotalNet
			}
			voidedValue := strings.ToLower(strings.TrimSpace(pickRowValue(mapped, []string{"voided", "voided?", "void"})))
			voided := voidedValue == "true" || voidedValue == "yes" || voidedValue == "1"
			reason := pickRowValue(mapped, []string{"reason", "void reason"})

			item := model.LineItem{
				ItemName:         name,
				Modifiers:        modifiers,
				Quantity:         quantity,
				UnitPrice:        unitPrice,
				Discount:         lineDiscount,
				LineTotal:        lineTotalNet,
				LineTax:          lineTax,
				LineTotalWithTax: lineTotalWithTax,
				Voided:           voided,
				Reason:           reason,
			}
			items = append(items, item)
		}
		var filtered []model.LineItem
		for _, item := range items {
			if item.ItemName != "" {
				filtered = append(filtered, item)
			}
		}
		if len(filtered) > 0 {
			return filtered
		}
	}
	return nil
}

func firstTotalOrAmount(mapped map[string]string) string {
	for k, v := range mapped {
		nk := normalizeHeader(k)
		if strings.Contains(nk, "total") || strings.Contains(nk, "amount") {
			return v
		}
	}
	return ""
}

func orFirst(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = normalizeHeader(h)
	}
	return out
}

// ExtractDiscounts returns the discount rows from the first table that
// looks like a discount breakdown (name, amount, applied date columns),
// mirroring extract_discounts_from_tables.
func ExtractDiscounts(tables []RawTable) []model.Discount {
	for _, table := range tables {
		headers := normalizeHeaders(table.Headers)
		if len(headers) == 0 {
			continue
		}
		hasName := hasAny(headers, "name")
		hasAmount := hasAny(headers, "amount")
		hasApplied := false
		for _, h := range headers {
			if strings.Contains(h, "applied") && strings.Contains(h, "date") {
				hasApplied = true
				break
			}
		}
		if !(hasName && hasAmount && hasApplied) {
			continue
		}

		var discounts []model.Discount
		for _, row := range table.Rows {
			mapped := rowMap(headers, row)
			name := pickRowValue(mapped, []string{"name"})
			amount := parseDecimal(pickRowValue(mapped, []string{"amount"}))
			if amount == nil {
				zero := decimal.Zero
				amount = &zero
			}
			discounts = append(discounts, model.Discount{
				Name:        name,
				Amount:      amount,
				AppliedDate: strPtr(pickRowValue(mapped, []string{"applied date", "date applied"})),
				Approver:    pickRowValue(mapped, []string{"approver", "approved by"}),
				Reason:      pickRowValue(mapped, []string{"reason"}),
				Comment:     pickRowValue(mapped, []string{"comment", "notes", "note"}),
			})
		}
		var filtered []model.Discount
		for _, d := range discounts {
			if d.Name != "" || d.Amount != nil {
				filtered = append(filtered, d)
			}
		}
		if len(filtered) > 0 {
			return filtered
		}
	}
	return nil
}

var cardMatchRe = regexp.MustCompile(`(?i)(?:\*{4}|x{4}|ending in)\s*(\d{4})`)
var cardSuffixRe = regexp.MustCompile(`\b(\d{4})\b`)
var cardTypeFromTenderRe = regexp.MustCompile(`(?i)(?:credit|debit)\s*:\s*([A-Za-z]+)`)

// ExtractPayments returns the payment rows from the first table that
// looks like a tender breakdown, teasing card brand and last-4 out of the
// tender text when they aren't in their own columns, mirroring
// extract_payments_from_tables.
func ExtractPayments(tables []RawTable) []model.Payment {
	for _, table := range tables {
		headers := normalizeHeaders(table.Headers)
		if len(headers) == 0 {
			continue
		}
		hasPayment := hasAny(headers, "payment", "method", "card")
		hasAmount := hasAny(headers, "amount", "total")
		if !(hasPayment && hasAmount) {
			continue
		}

		var payments []model.Payment
		for _, row := range table.Rows {
			mapped := rowMap(headers, row)
			rawType := orFirst(pickRowValue(mapped, []string{"payment", "payment method", "method", "type"}), firstContainingAny(mapped, "payment", "method"))
			paymentType := normalizePaymentType(rawType)

			cardType := orFirst(pickRowValue(mapped, []string{"card type"}), firstCardNotLast(mapped))
			cardLast4 := pickRowValue(mapped, []string{"card last 4", "last 4"})
			if cardLast4 == "" && paymentType != "" {
				if m := cardMatchRe.FindStringSubmatch(paymentType); len(m) > 1 {
					cardLast4 = m[1]
				}
			}
			if cardLast4 == "" && paymentType != "" {
				if m := cardSuffixRe.FindStringSubmatch(paymentType); len(m) > 1 {
					cardLast4 = m[1]
				}
			}
			if cardType == "" && paymentType != "" {
				if m := cardTypeFromTenderRe.FindStringSubmatch(paymentType); len(m) > 1 {
					cardType = m[1]
				}
			}
			if strings.EqualFold(paymentType, string(model.PaymentGiftCard)) {
				cardType = ""
				cardLast4 = ""
			}

			amount := parseDecimal(orFirst(pickRowValue(mapped, []string{"amount", "paid", "charge amount"}), mapped["total"], firstContainingAny(mapped, "amount", "total")))
			tip := parseDecimal(orFirst(pickRowValue(mapped, []string{"tip"}), firstContaining(mapped, "tip")))
			gratuity := parseDecimal(orFirst(pickRowValue(mapped, []string{"gratuity", "service charge"}), firstContaining(mapped, "gratuity")))
			total := parseDecimal(orFirst(pickRowValue(mapped, []string{"total"}), firstContaining(mapped, "total")))
			refund := parseDecimal(orFirst(pickRowValue(mapped, []string{"refund"}), firstContaining(mapped, "refund")))

			payments = append(payments, model.Payment{
				PaymentType: paymentType,
				PaymentDate: pickRowValue(mapped, []string{"date", "paid at", "payment date"}),
				Amount:      amount,
				Tip:         tip,
				Gratuity:    gratuity,
				Total:       total,
				Refund:      refund,
				Status:      pickRowValue(mapped, []string{"status"}),
				CardType:    cardType,
				CardLast4:   cardLast4,
			})
		}
		var filtered []model.Payment
		for _, p := range payments {
			if p.PaymentType != "" || p.Amount != nil {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			return filtered
		}
	}
	return nil
}

func firstContainingAny(mapped map[string]string, needles ...string) string {
	for k, v := range mapped {
		nk := normalizeHeader(k)
		for _, n := range needles {
			if strings.Contains(nk, n) {
				return v
			}
		}
	}
	return ""
}

func firstCardNotLast(mapped map[string]string) string {
	for k, v := range mapped {
		nk := normalizeHeader(k)
		if strings.Contains(nk, "card") && !strings.Contains(nk, "last") {
			return v
		}
	}
	return ""
}

// Validate recomputes the subtotal+tax+tip+gratuity-discount total, and
// every line item's quantity*unit_price-discount line total, flagging any
// mismatch beyond the $0.05 reconciliation tolerance, mirroring
// validate_detail_payload.
func Validate(detail *model.CheckDetail) []string {
	var errs []string
	if detail.Subtotal != nil && detail.Tax != nil && detail.Tip != nil && detail.Gratuity != nil && detail.Total != nil {
		discount := decimal.Zero
		if detail.Discount != nil {
			discount = *detail.Discount
		}
		expected := detail.Subtotal.Add(*detail.Tax).Add(*detail.Tip).Add(*detail.Gratuity).Sub(discount).Round(2)
		diff := expected.Sub(*detail.Total).Abs()
		if diff.GreaterThan(decimal.NewFromFloat(0.05)) {
			errs = append(errs, fmt.Sprintf(
				"total_mismatch: expected=%s actual=%s (subtotal=%s, tax=%s, tip=%s, gratuity=%s, discount=%s)",
				expected.StringFixed(2), detail.Total.StringFixed(2),
				detail.Subtotal.StringFixed(2), detail.Tax.StringFixed(2),
				detail.Tip.StringFixed(2), detail.Gratuity.StringFixed(2), discount.StringFixed(2),
			))
		}
	}

	for idx, item := range detail.Items {
		if item.Quantity == nil || item.UnitPrice == nil || item.LineTotal == nil {
			continue
		}
		lineDiscount := decimal.Zero
		if item.Discount != nil {
			lineDiscount = *item.Discount
		}
		expectedLine := item.Quantity.Mul(*item.UnitPrice).Sub(lineDiscount).Round(2)
		diff := expectedLine.Sub(*item.LineTotal).Abs()
		if diff.GreaterThan(decimal.NewFromFloat(0.05)) {
			errs = append(errs, fmt.Sprintf("line_total_mismatch[%d]: expected=%s actual=%s", idx, expectedLine.StringFixed(2), item.LineTotal.StringFixed(2)))
		}
	}
	return errs
}

var checkNumberRe = []string{`check\s*#?\s*(\d+)`, `order\s*#?\s*(\d+)`}
var timeOpenedRe = []string{
	`(?:time opened|opened)\s*[:\-]?\s*(?:\n|\r\n)\s*([0-9/:\sapmAPM,]+)`,
	`(?:time opened|opened)\s*[:\-]?\s*([0-9/:\sapmAPM]+)`,
}
var guestCountRe = []string{
	`(?:guest count|guests?|covers?)\s*[:\-]?\s*(?:\n|\r\n)\s*(\d+)`,
	`(?:guest count|guests?|covers?)\s*[:\-]?\s*(\d+)`,
}
var serverRe = []string{`server\s*[:\-]?\s*(?:\n|\r\n)\s*([^\n]+)`, `server\s*[:\-]?\s*([^\n]+)`}
var tableRe = []string{`table\s*[:\-]?\s*(?:\n|\r\n)\s*([^\n]+)`, `table\s*[:\-]?\s*([^\n]+)`}
var revenueCenterRe = []string{
	`revenue center\s*[:\-]?\s*(?:\n|\r\n)\s*([^\n]+)`,
	`revenue center\s*[:\-]?\s*([^\n]+)`,
}
var subtotalRe = []string{`subtotal\s*:?\s*\$?\s*([0-9,]+\.\d{2})`}
var taxRe = []string{`\btax\b\s*:?\s*\$?\s*([0-9,]+\.\d{2})`}
var tipRe = []string{`\btip\b\s*:?\s*\$?\s*([0-9,]+\.\d{2})`}
var gratuityRe = []string{`gratuity\s*:?\s*\$?\s*([0-9,]+\.\d{2})`}
var totalRe = []string{
	`\btotal\b\s*:?\s*\$?\s*([0-9,]+\.\d{2})`,
	`\btotal\b\s*:\s*(?:[A-Za-z ]+:\s*)*\$?\s*([0-9,]+\.\d{2})`,
}
var createdByRe = []string{`Created by\s*:\s*([^\n]+)`, `Created by\s*\[[^\]]+\]\s*:\s*([^\n]+)`}

// MapDetailPayload fuses a RawPayload and the row metadata harvested
// during pagination into a model.CheckDetail, applying the same
// structured-first, regex-fallback, metadata-last, derived-last
// precedence chain as map_detail_payload.
func MapDetailPayload(payload RawPayload, metadata map[string]string) *model.CheckDetail {
	payments := ExtractPayments(payload.Tables)
	items := ExtractItems(payload.Tables)
	discounts := ExtractDiscounts(payload.Tables)

	cardType := pickValue(payload.Pairs, []string{"card type", "card"})
	cardLast4 := pickValue(payload.Pairs, []string{"last 4", "last4", "last four"})
	if cardLast4 == "" && len(payments) > 0 {
		cardLast4 = payments[0].CardLast4
	}
	if cardType == "" && len(payments) > 0 {
		cardType = payments[0].CardType
	}
	if cardType == "" {
		cardType = pickMetadataValue(metadata, []string{"card type", "type", "payment"})
	}
	if cardLast4 == "" {
		cardLast4 = pickMetadataValue(metadata, []string{"last 4", "last4"})
	}
	if len(payments) > 0 {
		first := &payments[0]
		allowCardFill := !strings.EqualFold(strings.TrimSpace(first.PaymentType), "gift card")
		if allowCardFill && first.CardType == "" && cardType != "" {
			first.CardType = cardType
		}
		if allowCardFill && first.CardLast4 == "" && cardLast4 != "" {
			first.CardLast4 = cardLast4
		}
	}

	regexCheckNumber := parseInt(regexPick(payload.BodyText, checkNumberRe))
	regexTimeOpened := regexPick(payload.BodyText, timeOpenedRe)
	regexGuestCount := parseInt(regexPick(payload.BodyText, guestCountRe))
	regexServer := regexPick(payload.BodyText, serverRe)
	regexTable := regexPick(payload.BodyText, tableRe)
	regexRevenueCenter := regexPick(payload.BodyText, revenueCenterRe)
	regexSubtotal := parseDecimal(regexPick(payload.BodyText, subtotalRe))
	regexTax := parseDecimal(regexPick(payload.BodyText, taxRe))
	regexTip := parseDecimal(regexPick(payload.BodyText, tipRe))
	regexGratuity := parseDecimal(regexPick(payload.BodyText, gratuityRe))
	regexTotal := parseDecimal(regexPick(payload.BodyText, totalRe))

	subtotal := parseDecimal(payload.Summary["subtotal"])
	if subtotal == nil {
		subtotal = orDecimal(parseDecimal(pickValue(payload.Pairs, []string{"subtotal"})), regexSubtotal)
	}
	if subtotal == nil {
		subtotal = parseDecimal(pickMetadataValue(metadata, []string{"subtotal", "amount", "net sales", "pre-tax"}))
	}

	tip := parseDecimal(payload.Summary["tip"])
	if tip == nil && len(payments) > 0 {
		tip = sumPaymentField(payments, func(p model.Payment) *decimal.Decimal { return p.Tip })
	}
	if tip == nil {
		tip = orDecimal(parseDecimal(pickValue(payload.Pairs, []string{"tip"})), regexTip)
	}
	if tip == nil {
		tip = parseDecimal(pickMetadataValue(metadata, []string{"tip"}))
	}

	gratuity := parseDecimal(payload.Summary["gratuity"])
	if gratuity == nil && len(payments) > 0 {
		gratuity = sumPaymentField(payments, func(p model.Payment) *decimal.Decimal { return p.Gratuity })
	}
	if gratuity == nil {
		gratuity = orDecimal(parseDecimal(pickValue(payload.Pairs, []string{"gratuity"})), regexGratuity)
	}
	if gratuity == nil {
		gratuity = parseDecimal(pickMetadataValue(metadata, []string{"gratuity", "service charge"}))
	}

	total := parseDecimal(payload.Summary["total"])
	if total == nil {
		total = orDecimal(parseDecimal(pickValue(payload.Pairs, []string{"total"})), regexTotal)
	}
	if total == nil {
		total = parseDecimal(pickMetadataValue(metadata, []string{"total"}))
	}
	if total == nil && len(payments) > 0 {
		total = sumPaymentField(payments, func(p model.Payment) *decimal.Decimal { return p.Total })
	}
	if total == nil && len(payments) > 0 {
		amountSum := sumPaymentField(payments, func(p model.Payment) *decimal.Decimal { return p.Amount })
		if amountSum != nil {
			tipComponent := decimal.Zero
			if tip != nil {
				tipComponent = *tip
			}
			gratuityComponent := decimal.Zero
			if gratuity != nil {
				gratuityComponent = *gratuity
			}
			computed := amountSum.Add(tipComponent).Add(gratuityComponent).Round(2)
			total = &computed
		}
	}

	discount := parseDecimal(payload.Summary["discount"])
	if discount == nil {
		discount = parseDecimal(pickValue(payload.Pairs, []string{"discount"}))
	}
	if discount == nil {
		discount = parseDecimal(pickMetadataValue(metadata, []string{"discount"}))
	}
	if discount == nil {
		zero := decimal.Zero
		discount = &zero
	}

	tax := parseDecimal(payload.Summary["tax"])
	if tax == nil {
		tax = orDecimal(parseDecimal(pickValue(payload.Pairs, []string{"tax"})), regexTax)
	}
	if tax == nil {
		tax = parseDecimal(pickMetadataValue(metadata, []string{"tax"}))
	}
	if tax == nil && subtotal != nil && total != nil {
		tipComponent := decimal.Zero
		if tip != nil {
			tipComponent = *tip
		}
		gratuityComponent := decimal.Zero
		if gratuity != nil {
			gratuityComponent = *gratuity
		}
		computed := total.Sub(*subtotal).Sub(tipComponent).Sub(gratuityComponent).Round(2)
		if !computed.IsNegative() {
			tax = &computed
		}
	}
	if tax == nil && len(items) > 0 {
		netSum, grossSum := decimal.Zero, decimal.Zero
		for _, item := range items {
			if item.LineTotal != nil {
				netSum = netSum.Add(*item.LineTotal)
			}
			if item.LineTotalWithTax != nil {
				grossSum = grossSum.Add(*item.LineTotalWithTax)
			} else if item.LineTotal != nil {
				grossSum = grossSum.Add(*item.LineTotal)
			}
		}
		computed := grossSum.Sub(netSum).Round(2)
		if !computed.IsNegative() {
			tax = &computed
		}
	}
	if tax != nil && tax.Abs().LessThan(decimal.NewFromFloat(0.005)) {
		zero := decimal.Zero
		tax = &zero
	}

	checkNumber := parseInt(pickValue(payload.Pairs, []string{"check #", "check number"}))
	if checkNumber == nil {
		checkNumber = regexCheckNumber
	}
	timeOpened := orFirst(pickValue(payload.Pairs, []string{"opened", "time opened", "open time"}), payload.SummaryDetails["time_opened"], regexTimeOpened)
	guestCount := parseInt(pickValue(payload.Pairs, []string{"guest", "covers"}))
	if guestCount == nil {
		guestCount = parseInt(payload.SummaryDetails["guest_count"])
	}
	if guestCount == nil {
		guestCount = regexGuestCount
	}
	server := orFirst(pickValue(payload.Pairs, []string{"server", "employee"}), payload.SummaryDetails["server"], regexServer)
	table := orFirst(pickValue(payload.Pairs, []string{"table", "tab"}), payload.SummaryDetails["table"], regexTable)
	revenueCenter := orFirst(pickValue(payload.Pairs, []string{"revenue center", "location"}), payload.SummaryDetails["revenue_center"], regexRevenueCenter)

	if checkNumber == nil {
		checkNumber = parseInt(pickMetadataValue(metadata, []string{"order #", "check #"}))
	}
	if timeOpened == "" {
		timeOpened = pickMetadataValue(metadata, []string{"order date", "opened"})
	}
	if guestCount == nil {
		guestCount = parseInt(pickMetadataValue(metadata, []string{"guest"}))
	}
	server = sanitizeServerValue(server)
	if server == "" {
		server = sanitizeServerValue(pickMetadataValue(metadata, []string{"server", "opened by"}))
	}
	if server == "" {
		server = sanitizeServerValue(regexPick(payload.BodyText, createdByRe))
	}
	if table == "" {
		table = pickMetadataValue(metadata, []string{"table"})
	}
	if revenueCenter == "" {
		revenueCenter = pickMetadataValue(metadata, []string{"revenue center", "dining area"})
	}

	var timeClosed string
	for _, p := range payments {
		if p.PaymentDate != "" {
			timeClosed = p.PaymentDate
			break
		}
	}
	if timeClosed == "" {
		timeClosed = pickValue(payload.Pairs, []string{"payment date", "closed", "closed at"})
	}
	if timeClosed == "" {
		timeClosed = pickMetadataValue(metadata, []string{"payment date", "closed", "closed at"})
	}
	turnover := computeTurnoverMinutes(timeOpened, timeClosed)

	detail := &model.CheckDetail{
		CheckNumber:   checkNumber,
		TimeOpened:    strPtr(timeOpened),
		TimeClosed:    strPtr(timeClosed),
		TurnoverTime:  turnover,
		Server:        strPtr(server),
		Table:         strPtr(table),
		GuestCount:    guestCount,
		RevenueCenter: strPtr(revenueCenter),
		Subtotal:      subtotal,
		Tax:           tax,
		Tip:           tip,
		Gratuity:      gratuity,
		Discount:      discount,
		Total:         total,
		Items:         items,
		Payments:      payments,
		Discounts:     discounts,
	}

	validationErrors := Validate(detail)
	detail.ValidationErrors = validationErrors

	hasFinancial := detail.Total != nil
	if !hasFinancial {
		for _, p := range payments {
			if p.Amount != nil {
				hasFinancial = true
				break
			}
		}
	}
	hasIdentity := detail.CheckNumber != nil || strings.TrimSpace(timeOpened) != "" || strings.TrimSpace(server) != ""
	hasPaymentsOrZeroTotal := len(payments) > 0 || (detail.Total != nil && detail.Total.Abs().LessThan(decimal.NewFromFloat(0.005)))

	detail.Complete = len(items) > 0 && hasPaymentsOrZeroTotal && hasFinancial && hasIdentity && len(validationErrors) == 0
	return detail
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDecimal(values ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func sumPaymentField(payments []model.Payment, field func(model.Payment) *decimal.Decimal) *decimal.Decimal {
	sum := decimal.Zero
	found := false
	for _, p := range payments {
		if v := field(p); v != nil {
			sum = sum.Add(*v)
			found = true
		}
	}
	if !found {
		return nil
	}
	sum = sum.Round(2)
	return &sum
}
