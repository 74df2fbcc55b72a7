// Package reportdriver drives the Toast sales report chrome once the
// session is authenticated: switching between the Payments and Order
// Details tabs, setting the visible per-page selector (falling back to
// clicking the "100" option directly when the select element itself
// resists scripted mutation), and pushing a custom date range through
// both the visible date inputs and the hidden legacy backing fields Toast
// actually reads when it builds the report query. Every mutation is
// JS-first with a locator-based fallback, mirroring the original's
// belt-and-suspenders approach to a UI that silently ignores some
// mutation paths depending on which report view is active.
package reportdriver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"

	"github.com/jmylchreest/toastextract/internal/clock"
	"github.com/jmylchreest/toastextract/internal/config"
	"github.com/jmylchreest/toastextract/internal/logging"
)

// Driver bundles the page and the human-pause timing knobs the original's
// report-chrome helpers thread through every call.
type Driver struct {
	Page            *rod.Page
	Selectors       *config.Selectors
	Logger          *slog.Logger
	HumanMinDelayMS int
	HumanMaxDelayMS int
}

// FirstUsableLocator returns the first selector (optionally restricted to
// a ":visible" near-duplicate check) that matches at least one element,
// mirroring first_usable_locator. Returns "" when none match.
func FirstUsableLocator(page *rod.Page, selectors []string, requireVisible bool) string {
	for _, sel := range selectors {
		if requireVisible {
			if el, err := page.Element(sel); err == nil {
				if visible, err := el.Visible(); err == nil && visible {
					return sel
				}
			}
			continue
		}
		has, _, err := page.Has(sel)
		if err == nil && has {
			return sel
		}
	}
	return ""
}

// ClickFirstAvailable clicks the first visible match among selectors,
// mirroring click_first_available.
func ClickFirstAvailable(page *rod.Page, selectors []string) bool {
	sel := FirstUsableLocator(page, selectors, true)
	if sel == "" {
		return false
	}
	el, err := page.Element(sel)
	if err != nil {
		return false
	}
	return el.Click(rod.Default, 1) == nil
}

func (d *Driver) pause(ctx context.Context, label string) {
	clock.HumanPause(ctx, d.Logger, d.HumanMinDelayMS, d.HumanMaxDelayMS, label)
}

// WaitForPaymentsTableReady polls for the payments report's info banner,
// per-page selector, or first populated row, mirroring
// wait_for_payments_table_ready.
func (d *Driver) WaitForPaymentsTableReady(timeoutSec int) {
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	markers := []string{
		"#sales-payments #payments-report_info",
		"#sales-payments .per-page-selector",
		"#sales-payments table tbody tr",
	}
	for time.Now().Before(deadline) {
		for _, sel := range markers {
			if has, _, err := d.Page.Has(sel); err == nil && has {
				return
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
}

// EnsurePaymentsTab clicks the Payments tab if it isn't already active,
// mirroring ensure_payments_tab.
func (d *Driver) EnsurePaymentsTab() {
	const active = "#sales-payments.tab-pane.active, #sales-payments.active"
	if has, _, err := d.Page.Has(active); err == nil && has {
		return
	}
	tabSelectors := []string{"a[href='#sales-payments']", "li:has-text('Payments') a"}
	for _, sel := range tabSelectors {
		el, err := d.Page.Element(sel)
		if err != nil {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			el.Click(rod.Default, 1)
			break
		}
	}
	d.Page.Timeout(8 * time.Second).MustElement(active)
}

// WaitForOrderDetailsTableReady polls for the order-details top-items
// widget, its wrapper, or its pagination container, mirroring
// wait_for_order_details_table_ready.
func (d *Driver) WaitForOrderDetailsTableReady(timeoutSec int) {
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	markers := []string{
		"#sales-order-details #top-items",
		"#top-items_wrapper",
		"#sales-order-details .pagination",
	}
	for time.Now().Before(deadline) {
		for _, sel := range markers {
			if has, _, err := d.Page.Has(sel); err == nil && has {
				return
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
}

// EnsureOrderDetailsTab clicks the Order Details tab if it isn't already
// active, mirroring ensure_order_details_tab.
func (d *Driver) EnsureOrderDetailsTab() {
	const active = "#sales-order-details.tab-pane.active, #sales-order-details.active"
	if has, _, err := d.Page.Has(active); err == nil && has {
		return
	}
	for _, sel := range d.Selectors.OrderDetails.TabLink {
		el, err := d.Page.Element(sel)
		if err != nil {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			el.Click(rod.Default, 1)
			break
		}
	}
	d.Page.Timeout(8 * time.Second).MustElement(active)
}

const jsSetSelectValue = `({ selectors, value }) => {
	for (const selector of selectors) {
		const el = document.querySelector(selector);
		if (!el || el.tagName.toLowerCase() !== "select") continue;
		el.value = value;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return true;
	}
	return false;
}`

// setSelectByJS mutates the first matching <select> via evaluate, falling
// back to SelectText, returning whether a value was actually pushed.
func setSelectByJS(page *rod.Page, selectors []string, value string) bool {
	res, err := page.Eval(jsSetSelectValue, map[string]any{"selectors": selectors, "value": value})
	if err == nil && res != nil && res.Value.Bool() {
		return true
	}
	sel := FirstUsableLocator(page, selectors, false)
	if sel == "" {
		return false
	}
	el, err := page.Element(sel)
	if err != nil {
		return false
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText) == nil
}

// SetPerPage sets the payments table's page size, mirroring set_per_page:
// retry the select-element mutation a handful of times, then fall back to
// clicking a literal "100" option if the select itself never appeared.
func (d *Driver) SetPerPage(ctx context.Context, perPage int) {
	d.WaitForPaymentsTableReady(20)
	value := strconv.Itoa(perPage)
	for i := 0; i < 5; i++ {
		sel := FirstUsableLocator(d.Page, d.Selectors.Payments.PerPageSelect, false)
		if sel != "" {
			if setSelectByJS(d.Page, d.Selectors.Payments.PerPageSelect, value) {
				time.Sleep(700 * time.Millisecond)
				d.pause(ctx, "set_per_page")
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	if perPage == 100 {
		optSel := FirstUsableLocator(d.Page, d.Selectors.Payments.PerPage100Opt, true)
		if optSel != "" {
			if el, err := d.Page.Element(optSel); err == nil && el.Click(rod.Default, 1) == nil {
				time.Sleep(700 * time.Millisecond)
				d.pause(ctx, "set_per_page_100")
				return
			}
		}
	}
	if d.Logger != nil {
		d.Logger.Warn("set_per_page_selector_not_found")
	}
}

// SetTopItemsPerPage is the order-details-tab analogue of SetPerPage,
// mirroring set_top_items_per_page.
func (d *Driver) SetTopItemsPerPage(ctx context.Context, perPage int) {
	d.WaitForOrderDetailsTableReady(20)
	value := strconv.Itoa(perPage)
	for i := 0; i < 4; i++ {
		sel := FirstUsableLocator(d.Page, d.Selectors.OrderDetails.TopItemsPerPageSelect, false)
		if sel != "" {
			if setSelectByJS(d.Page, d.Selectors.OrderDetails.TopItemsPerPageSelect, value) {
				time.Sleep(700 * time.Millisecond)
				d.pause(ctx, "set_top_items_per_page")
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	if perPage == 100 {
		optSel := FirstUsableLocator(d.Page, d.Selectors.OrderDetails.TopItemsPerPage100Opt, true)
		if optSel != "" {
			if el, err := d.Page.Element(optSel); err == nil && el.Click(rod.Default, 1) == nil {
				time.Sleep(700 * time.Millisecond)
			}
		}
	}
}

// ToUSDate renders a YYYY-MM-DD date as Toast's visible MM-DD-YYYY input
// format, mirroring to_us_date.
func ToUSDate(dateStr string) (string, error) {
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return "", fmt.Errorf("reportdriver: invalid date %q: %w", dateStr, err)
	}
	return t.Format("01-02-2006"), nil
}

// ToShortUSDate renders a YYYY-MM-DD date as Toast's legacy hidden-field
// M/D/YY format, mirroring to_short_us_date.
func ToShortUSDate(dateStr string) (string, error) {
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return "", fmt.Errorf("reportdriver: invalid date %q: %w", dateStr, err)
	}
	return fmt.Sprintf("%d/%d/%s", t.Month(), t.Day(), t.Format("06")), nil
}

const jsForceHiddenDateFields = `({ startShort, endShort, startValue, endValue }) => {
	const setValue = (selector, value) => {
		const el = document.querySelector(selector);
		if (!el) return 0;
		el.value = value;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return 1;
	};
	let touched = 0;
	touched += setValue("#startDate", startShort);
	touched += setValue("#endDate", endShort);
	touched += setValue("input[name='reportDateStart']", startValue);
	touched += setValue("input[name='reportDateEnd']", endValue);
	return touched;
}`

const jsSetAllDateInputs = `({ startSelectors, endSelectors, startValue, endValue, startShort, endShort }) => {
	const setAll = (selectors, primary, legacy, token) => {
		let touched = 0;
		for (const selector of selectors) {
			const nodes = Array.from(document.querySelectorAll(selector));
			for (const node of nodes) {
				const id = (node.id || "").toLowerCase();
				const name = (node.name || "").toLowerCase();
				const useLegacy = id === token || name === token;
				node.value = useLegacy ? legacy : primary;
				node.dispatchEvent(new Event("input", { bubbles: true }));
				node.dispatchEvent(new Event("change", { bubbles: true }));
				touched += 1;
			}
		}
		return touched;
	};
	const startTouched = setAll(startSelectors, startValue, startShort, "startdate");
	const endTouched = setAll(endSelectors, endValue, endShort, "enddate");
	return startTouched > 0 && endTouched > 0;
}`

const jsClickApply = `({ applySelectors }) => {
	const findVisible = (selector) => {
		const nodes = Array.from(document.querySelectorAll(selector));
		return nodes.find((el) => {
			const rect = el.getBoundingClientRect();
			return rect.width > 0 && rect.height > 0;
		}) || nodes[0] || null;
	};
	for (const selector of applySelectors) {
		const btn = findVisible(selector);
		if (!btn) continue;
		btn.click();
		btn.dispatchEvent(new MouseEvent("click", { bubbles: true, cancelable: true }));
		return true;
	}
	const byId = document.querySelector("#filter-apply-handler");
	if (byId) {
		byId.click();
		byId.dispatchEvent(new MouseEvent("click", { bubbles: true, cancelable: true }));
		return true;
	}
	return false;
}`

const jsReadDateRangeValues = `() => {
	const getVal = (sel) => {
		const el = document.querySelector(sel);
		return el ? (el.value || el.getAttribute("value") || "") : "";
	};
	const dateDropdown = document.querySelector("#date-dropdown-container");
	const dateLabel = dateDropdown ? (dateDropdown.querySelector(".dropdown-label")?.textContent || "") : "";
	const customRange = document.querySelector(".custom-range");
	const customVisible = !!customRange && window.getComputedStyle(customRange).display !== "none";
	return {
		startDateHidden: getVal("#startDate"),
		endDateHidden: getVal("#endDate"),
		startDateBacking: getVal("input[name='reportDateStart']"),
		endDateBacking: getVal("input[name='reportDateEnd']"),
		dateRangeValue: dateDropdown ? (dateDropdown.getAttribute("data-value") || "") : "",
		dateRangeLabel: (dateLabel || "").trim(),
		customRangeVisible: customVisible,
	};
}`

// SetDateRange pushes a custom start/end date (both YYYY-MM-DD) into the
// report's date controls. It first switches the date-range dropdown to
// "Custom Date" if one is present, force-syncs the hidden legacy
// #startDate/#endDate and reportDateStart/reportDateEnd fields Toast
// actually reads, fills every configured visible input, re-syncs the
// hidden fields once more immediately before clicking Apply (closing the
// "backing inputs changed but report still uses today" failure mode), and
// finally clicks Apply — falling back to a synthetic click event, then to
// pressing Enter, if no apply button can be resolved. On success it reads
// back the same fields it just set and logs a date_range_values event —
// the diagnostic that lets a live "0 rows" report be told apart from one
// where the date range silently didn't take. Mirrors set_date_range.
func (d *Driver) SetDateRange(ctx context.Context, start, end string) error {
	if has, _, _ := d.Page.Has("#date-dropdown-container"); has {
		if el, err := d.Page.Timeout(2 * time.Second).Element("#date-dropdown-container button.dropdown-toggle"); err == nil {
			el.Click(rod.Default, 1)
			if opt, err := d.Page.Timeout(2 * time.Second).Element("#date-dropdown-container ul.dropdown-menu a[data-value='custom']"); err == nil {
				opt.Click(rod.Default, 1)
			} else if opt, err := d.Page.Timeout(2 * time.Second).Element("a[data-value='custom']"); err == nil {
				opt.Click(rod.Default, 1)
			}
		}
		d.Page.Timeout(6 * time.Second).MustElement(".custom-range")
	}

	startSel := FirstUsableLocator(d.Page, d.Selectors.Payments.DateStartInput, false)
	endSel := FirstUsableLocator(d.Page, d.Selectors.Payments.DateEndInput, false)
	if startSel == "" || endSel == "" {
		if d.Logger != nil {
			d.Logger.Warn("set_date_range_inputs_not_found")
		}
		return nil
	}

	startValue, err := ToUSDate(start)
	if err != nil {
		return err
	}
	endValue, err := ToUSDate(end)
	if err != nil {
		return err
	}
	startShort, err := ToShortUSDate(start)
	if err != nil {
		return err
	}
	endShort, err := ToShortUSDate(end)
	if err != nil {
		return err
	}

	hiddenArgs := map[string]any{
		"startShort": startShort, "endShort": endShort,
		"startValue": startValue, "endValue": endValue,
	}
	d.Page.Eval(jsForceHiddenDateFields, hiddenArgs)

	updatedInputs := 0
	for _, sel := range d.Selectors.Payments.DateStartInput {
		if el, err := d.Page.Timeout(1 * time.Second).Element(sel); err == nil {
			value := startValue
			if strings.Contains(sel, "startDate") {
				value = startShort
			}
			if el.Input(value) == nil {
				updatedInputs++
				d.pause(ctx, "date_start_fill")
			}
		}
	}
	for _, sel := range d.Selectors.Payments.DateEndInput {
		if el, err := d.Page.Timeout(1 * time.Second).Element(sel); err == nil {
			value := endValue
			if strings.Contains(sel, "endDate") {
				value = endShort
			}
			if el.Input(value) == nil {
				updatedInputs++
				d.pause(ctx, "date_end_fill")
			}
		}
	}

	if updatedInputs < 2 {
		res, err := d.Page.Eval(jsSetAllDateInputs, map[string]any{
			"startSelectors": d.Selectors.Payments.DateStartInput,
			"endSelectors":   d.Selectors.Payments.DateEndInput,
			"startValue":     startValue, "endValue": endValue,
			"startShort": startShort, "endShort": endShort,
		})
		if err != nil || res == nil || !res.Value.Bool() {
			if d.Logger != nil {
				d.Logger.Warn("set_date_range_could_not_update")
			}
			return nil
		}
	}

	d.Page.Eval(jsForceHiddenDateFields, hiddenArgs)

	applySel := FirstUsableLocator(d.Page, d.Selectors.Payments.ApplyButton, true)
	applied := false
	if applySel != "" {
		if el, err := d.Page.Timeout(3 * time.Second).Element(applySel); err == nil {
			applied = el.Click(rod.Default, 1) == nil
			if applied {
				d.pause(ctx, "date_apply_click")
			}
		}
	}

	if !applied {
		jsApplySelectors := make([]string, 0, len(d.Selectors.Payments.ApplyButton))
		for _, sel := range d.Selectors.Payments.ApplyButton {
			if strings.Contains(sel, ":has-text(") || strings.Contains(sel, "text=") {
				continue
			}
			jsApplySelectors = append(jsApplySelectors, sel)
		}
		res, err := d.Page.Eval(jsClickApply, map[string]any{"applySelectors": jsApplySelectors})
		jsApplied := err == nil && res != nil && res.Value.Bool()
		if !jsApplied {
			d.Page.Keyboard.Press(input.Enter)
		}
	}

	time.Sleep(1200 * time.Millisecond)
	d.pause(ctx, "post_date_apply")

	if res, err := d.Page.Eval(jsReadDateRangeValues); err == nil && res != nil {
		var values struct {
			StartDateHidden    string `json:"startDateHidden"`
			EndDateHidden      string `json:"endDateHidden"`
			StartDateBacking   string `json:"startDateBacking"`
			EndDateBacking     string `json:"endDateBacking"`
			DateRangeValue     string `json:"dateRangeValue"`
			DateRangeLabel     string `json:"dateRangeLabel"`
			CustomRangeVisible bool   `json:"customRangeVisible"`
		}
		if err := res.Value.Unmarshal(&values); err == nil && d.Logger != nil {
			logging.NewEventLogger(d.Logger).Event(ctx, "date_range_values",
				"startDateHidden", values.StartDateHidden,
				"endDateHidden", values.EndDateHidden,
				"startDateBacking", values.StartDateBacking,
				"endDateBacking", values.EndDateBacking,
				"dateRangeValue", values.DateRangeValue,
				"dateRangeLabel", values.DateRangeLabel,
				"customRangeVisible", values.CustomRangeVisible,
			)
		}
	}

	return nil
}

