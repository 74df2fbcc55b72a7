// Package pagination extracts order-detail and menu-item-summary rows from
// the Toast order-details tab page-by-page, always targeting the LAST
// `.pagination`/`.pagination-summary` widget on the page (the order-detail
// table's, not the menu-item-summary table's — both coexist in the DOM),
// and guards against infinite loops with a signature of recently-seen
// payment IDs: if a page boundary yields the same leading IDs twice in a
// row, the crawl is considered stalled and stops rather than spinning.
package pagination

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"

	"github.com/jmylchreest/toastextract/internal/clock"
	"github.com/jmylchreest/toastextract/internal/config"
	"github.com/jmylchreest/toastextract/internal/debugartifact"
	"github.com/jmylchreest/toastextract/internal/logging"
	"github.com/jmylchreest/toastextract/internal/model"
	"github.com/jmylchreest/toastextract/internal/parser"
	"github.com/jmylchreest/toastextract/internal/ratelimit"
	"github.com/jmylchreest/toastextract/internal/reportdriver"
)

// Summary is the parsed "Showing x through y of z" pagination banner.
type Summary struct {
	Start int
	End   int
	Total int
	OK    bool
}

var paginationSummaryRe = regexp.MustCompile(`(?i)Showing\s+(\d+)\s+through\s+(\d+)\s+of\s+(\d+)`)

const jsLastPaginationSummary = `() => {
	const spans = Array.from(document.querySelectorAll(".pagination-summary"));
	if (!spans.length) return "";
	return (spans[spans.length - 1].textContent || "").trim();
}`

// GetPaginationSummary reads the last `.pagination-summary` element on the
// page and parses its "Showing x through y of z" text, mirroring
// get_pagination_summary.
func GetPaginationSummary(page *rod.Page) Summary {
	res, err := page.Eval(jsLastPaginationSummary)
	if err != nil || res == nil {
		return Summary{}
	}
	text := res.Value.Str()
	m := paginationSummaryRe.FindStringSubmatch(text)
	if m == nil {
		return Summary{}
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	total, _ := strconv.Atoi(m[3])
	return Summary{Start: start, End: end, Total: total, OK: true}
}

const jsClickNextOrderDetailsPage = `() => {
	const isVisible = (el) => {
		if (!el) return false;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		const style = window.getComputedStyle(el);
		if (!style) return true;
		if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") return false;
		return true;
	};
	const paginationDivs = Array.from(document.querySelectorAll(".pagination"));
	if (!paginationDivs.length) return false;
	const lastPagination = paginationDivs[paginationDivs.length - 1];
	const nextLi = lastPagination.querySelector("li.next");
	if (!nextLi) return false;
	const className = (nextLi.getAttribute("class") || "").toLowerCase();
	if (className.includes("disabled")) return false;
	const anchor = nextLi.querySelector("a");
	if (!anchor || !isVisible(anchor)) return false;
	anchor.click();
	return true;
}`

// ClickNextOrderDetailsPage clicks "Next" in the LAST `.pagination` widget
// on the page — the order-detail table's, since the menu-item-summary
// table's pagination widgets precede it in document order — mirroring
// click_next_order_details_page.
func ClickNextOrderDetailsPage(page *rod.Page) bool {
	res, err := page.Eval(jsClickNextOrderDetailsPage)
	return err == nil && res != nil && res.Value.Bool()
}

// WaitForOrderDetailsIdle polls until no loading spinner/overlay is
// visible, mirroring wait_for_order_details_idle.
func WaitForOrderDetailsIdle(ctx context.Context, page *rod.Page, timeoutSec int) {
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	const js = `() => {
		const selectors = ['[aria-busy="true"]', '.loading', '.spinner', '.progress', 'img[alt*="Loading" i]'];
		const isVisible = (el) => {
			const r = el.getBoundingClientRect();
			return r.width > 0 && r.height > 0;
		};
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el && isVisible(el)) return true;
		}
		return false;
	}`
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		res, err := page.Eval(js)
		if err != nil || res == nil || !res.Value.Bool() {
			return
		}
		time.Sleep(400 * time.Millisecond)
	}
}

// WaitForPaginationChange polls the last `.pagination-summary` span until
// its start/end values differ from oldSummary, or timeoutSec elapses,
// mirroring wait_for_pagination_change.
func WaitForPaginationChange(ctx context.Context, page *rod.Page, old Summary, timeoutSec int) Summary {
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return old
		case <-time.After(500 * time.Millisecond):
		}
		WaitForOrderDetailsIdle(ctx, page, 5)
		next := GetPaginationSummary(page)
		if !next.OK {
			continue
		}
		if next.Start != old.Start || next.End != old.End {
			return next
		}
	}
	return old
}

const jsDetectNoItems = `() => {
	const text = (document.body && document.body.innerText || "").replace(/\s+/g, " ").trim();
	const lower = text.toLowerCase();
	const patterns = ["no items exist for this time period", "no items exist", "no results", "no data"];
	for (const pat of patterns) {
		const idx = lower.indexOf(pat);
		if (idx >= 0) {
			return text.slice(Math.max(0, idx - 80), Math.min(text.length, idx + pat.length + 160));
		}
	}
	return "";
}`

// DetectNoItemsMessage returns a snippet of the report's "no items/no
// data" empty-state text, or "" when absent, mirroring
// detect_no_items_message.
func DetectNoItemsMessage(page *rod.Page) string {
	res, err := page.Eval(jsDetectNoItems)
	if err != nil || res == nil {
		return ""
	}
	return res.Value.Str()
}

// WaitForOrderDetailBlocksReady polls for the configured order-block
// selectors (scrolling periodically, since some Toast views lazy-render
// blocks on scroll) until one matches, the empty-state message appears, or
// timeoutSec elapses, mirroring wait_for_order_detail_blocks_ready.
func WaitForOrderDetailBlocksReady(ctx context.Context, page *rod.Page, selectors []string, timeoutSec int) {
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if DetectNoItemsMessage(page) != "" {
			return
		}
		for _, sel := range selectors {
			if has, _, err := page.Has(sel); err == nil && has {
				return
			}
		}
		page.Eval("() => window.scrollBy(0, Math.max(400, Math.floor(window.innerHeight * 0.85)))")
		time.Sleep(500 * time.Millisecond)
	}
}

// orderBlockExtractScript returns the records, each shaped as
// {payment_id, metadata, payload:{pairs,tables,summary,summaryDetails,bodyText}, parsed_url}.
const jsExtractOrderDetailBlocks = `(orderSelectors) => {
	const blocks = [];
	const seen = new Set();
	for (const selector of orderSelectors) {
		for (const node of Array.from(document.querySelectorAll(selector))) {
			if (seen.has(node)) continue;
			seen.add(node);
			blocks.push(node);
		}
	}

	const normalize = (text) => (text || "").replace(/\s+/g, " ").trim();
	const records = [];
	for (let idx = 0; idx < blocks.length; idx += 1) {
		const order = blocks[idx];
		const pairs = {};

		for (const row of Array.from(order.querySelectorAll("tr"))) {
			const cells = Array.from(row.querySelectorAll("th, td"))
				.map((el) => normalize(el.textContent))
				.filter(Boolean);
			if (cells.length === 2) {
				const key = cells[0];
				if (key && !pairs[key]) pairs[key] = cells[1];
			}
		}

		for (const dl of Array.from(order.querySelectorAll("dl"))) {
			const dts = Array.from(dl.querySelectorAll("dt"));
			const dds = Array.from(dl.querySelectorAll("dd"));
			for (let i = 0; i < Math.min(dts.length, dds.length); i += 1) {
				const key = normalize(dts[i].textContent);
				const val = normalize(dds[i].textContent);
				if (key && !pairs[key]) pairs[key] = val;
			}
		}

		const tables = Array.from(order.querySelectorAll("table")).map((table) => {
			const headers = Array.from(table.querySelectorAll("thead th")).map((el) => normalize(el.textContent));
			const rows = Array.from(table.querySelectorAll("tbody tr")).map((row) =>
				Array.from(row.querySelectorAll("th, td")).map((el) => normalize(el.textContent))
			);
			return { headers, rows };
		});

		const byClassText = (selector) => normalize(order.querySelector(selector) ? order.querySelector(selector).textContent : "");
		const summary = {
			discount: byClassText(".check-discounts"),
			credits: byClassText(".check-credits"),
			subtotal: byClassText(".check-subtotal"),
			tax: byClassText(".check-tax"),
			tip: byClassText(".check-tip"),
			gratuity: byClassText(".check-gratuity"),
			total: byClassText(".check-total"),
		};

		const summaryDetails = {};
		const detailsBlock = order.querySelector(".check-server-details");
		if (detailsBlock) {
			const lines = (detailsBlock.innerText || "").split(/\n+/).map((line) => normalize(line)).filter(Boolean);
			const labelBlock = detailsBlock.previousElementSibling;
			const labels = [];
			if (labelBlock) {
				for (const el of Array.from(labelBlock.querySelectorAll("b"))) {
					const label = normalize(el.textContent).replace(/:$/, "").toLowerCase();
					if (label) labels.push(label);
				}
			}
			const byLabel = {};
			let labelIndex = 0;
			let lastLabel = "";
			for (const line of lines) {
				const isContinuation = line.startsWith("(") && lastLabel;
				if (isContinuation) {
					byLabel[lastLabel] = (byLabel[lastLabel] + " " + line).trim();
					continue;
				}
				if (labelIndex < labels.length) {
					const label = labels[labelIndex];
					byLabel[label] = line;
					lastLabel = label;
					labelIndex += 1;
				} else if (lastLabel) {
					byLabel[lastLabel] = (byLabel[lastLabel] + " " + line).trim();
				}
			}
			if (byLabel["time opened"]) summaryDetails.time_opened = byLabel["time opened"];
			if (byLabel["server"]) summaryDetails.server = byLabel["server"];
			if (!summaryDetails.server && byLabel["opened by server"]) summaryDetails.server = byLabel["opened by server"];
			if (byLabel["table"]) summaryDetails.table = byLabel["table"];
			if (!summaryDetails.time_opened && lines.length > 0) summaryDetails.time_opened = lines[0];
			if (!summaryDetails.server && lines.length > 1) summaryDetails.server = lines[1];
			if (!summaryDetails.table && lines.length > 1) {
				const fallbackIndex = Math.max(0, lines.length - 2);
				summaryDetails.table = lines[fallbackIndex] || lines[lines.length - 1];
			}
		}
		const guestInput = order.querySelector("#num-guests");
		if (guestInput && guestInput.value) summaryDetails.guest_count = normalize(guestInput.value);
		const revenueCenter = order.querySelector("#revenue-center-name");
		if (revenueCenter) summaryDetails.revenue_center = normalize(revenueCenter.textContent);

		const bodyText = order.innerText || "";
		let orderNumber = "";
		const headerEl = order.querySelector("#order-summary-header");
		const orderHeaderText = normalize(headerEl ? headerEl.textContent : "");
		if (orderHeaderText) {
			const match = orderHeaderText.match(/Order\s*#\s*(\d+)/i);
			if (match) orderNumber = match[1];
		}

		let source = "";
		const sourceMatch = bodyText.match(/Source\s*:\s*\n+([^\n]+)/i);
		if (sourceMatch) source = normalize(sourceMatch[1]);

		let checkId = "";
		for (const el of Array.from(order.querySelectorAll(".order-detail-meta-id"))) {
			const match = normalize(el.textContent).match(/ID\s*:\s*([A-Za-z0-9_-]+)/i);
			if (match) { checkId = match[1]; break; }
		}
		if (!checkId) {
			const form = order.querySelector("form[action*='reopencheck?id=']");
			if (form) {
				const action = form.getAttribute("action") || "";
				const match = action.match(/id=([A-Za-z0-9_-]+)/i);
				if (match) checkId = match[1];
			}
		}
		if (!checkId) checkId = "order-" + (orderNumber || (idx + 1));

		const metadata = {
			payment_id: checkId,
			"Order #": orderNumber,
			Source: source,
			"Revenue Center": summaryDetails.revenue_center || "",
		};

		records.push({
			payment_id: checkId,
			metadata: metadata,
			payload: { pairs: pairs, tables: tables, summary: summary, summaryDetails: summaryDetails, bodyText: bodyText },
			parsed_url: window.location.origin + window.location.pathname + window.location.search + "#check-" + checkId,
		});
	}

	return records;
}`

// OrderBlock is one `.order-border`-shaped block scraped from the page,
// still in raw JS-object form before field fusion.
type OrderBlock struct {
	PaymentID  string
	Metadata   map[string]string
	Payload    parser.RawPayload
	ParsedURL  string
}

// ExtractOrderDetailBlocks scrapes every configured order-block selector
// into raw payloads ready for parser.MapDetailPayload, mirroring
// extract_order_detail_blocks.
func ExtractOrderDetailBlocks(page *rod.Page, selectors []string) []OrderBlock {
	res, err := page.Eval(jsExtractOrderDetailBlocks, selectors)
	if err != nil || res == nil {
		return nil
	}
	var raw []struct {
		PaymentID string            `json:"payment_id"`
		Metadata  map[string]string `json:"metadata"`
		ParsedURL string            `json:"parsed_url"`
		Payload   struct {
			Pairs   map[string]string `json:"pairs"`
			Tables  []struct {
				Headers []string   `json:"headers"`
				Rows    [][]string `json:"rows"`
			} `json:"tables"`
			Summary        map[string]string `json:"summary"`
			SummaryDetails map[string]string `json:"summaryDetails"`
			BodyText       string            `json:"bodyText"`
		} `json:"payload"`
	}
	if err := res.Value.Unmarshal(&raw); err != nil {
		return nil
	}
	blocks := make([]OrderBlock, 0, len(raw))
	for _, r := range raw {
		tables := make([]parser.RawTable, 0, len(r.Payload.Tables))
		for _, t := range r.Payload.Tables {
			tables = append(tables, parser.RawTable{Headers: t.Headers, Rows: t.Rows})
		}
		blocks = append(blocks, OrderBlock{
			PaymentID: r.PaymentID,
			Metadata:  r.Metadata,
			ParsedURL: r.ParsedURL,
			Payload: parser.RawPayload{
				Pairs:          r.Payload.Pairs,
				Tables:         tables,
				BodyText:       r.Payload.BodyText,
				Summary:        r.Payload.Summary,
				SummaryDetails: r.Payload.SummaryDetails,
			},
		})
	}
	return blocks
}

// CheckResult pairs a parsed detail record with its crawl metadata,
// mirroring the dict literal appended to all_rows in crawl_metadata.
type CheckResult struct {
	PaymentID string
	Metadata  map[string]string
	Detail    *model.CheckDetail
	ParsedURL string
}

// CrawlOptions bundles the knobs crawl_metadata threads through.
type CrawlOptions struct {
	StartDate       string
	EndDate         string
	MaxPages        int
	Limit           int
	HumanMinDelayMS int
	HumanMaxDelayMS int
	// RateLimiter, when set, serializes each "next page" navigation
	// through the same jittered-spacing/throttle-escalation controller
	// the original threads across concurrent detail tabs — in this
	// fused, single-tab crawl it paces successive page turns instead.
	RateLimiter *ratelimit.Controller
	// ArtifactDir, when non-empty, is where a debug screenshot/HTML/JSON
	// bundle is written when the order-details report reports zero rows.
	ArtifactDir string
}

// CrawlOrderDetails drives the full order-details pagination loop: set the
// date range, page through `.order-border` blocks (deduping by payment
// ID), and stop on whichever signal fires first — a repeated 6-ID page
// signature (stalled), a page that added no new IDs, the page-count cap,
// the "no items" empty state, the pagination-summary total being reached,
// or Next failing to click. Mirrors crawl_metadata.
func CrawlOrderDetails(ctx context.Context, page *rod.Page, selectors *config.Selectors, orderDetailsURL string, opts CrawlOptions, logger *slog.Logger) []CheckResult {
	driver := &reportdriver.Driver{Page: page, Selectors: selectors, Logger: logger, HumanMinDelayMS: opts.HumanMinDelayMS, HumanMaxDelayMS: opts.HumanMaxDelayMS}
	events := logging.NewEventLogger(logger)

	navCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	page.Context(navCtx).Navigate(orderDetailsURL)
	cancel()
	driver.EnsureOrderDetailsTab()
	driver.SetDateRange(ctx, opts.StartDate, opts.EndDate)
	driver.EnsureOrderDetailsTab()
	WaitForOrderDetailsIdle(ctx, page, 35)
	WaitForOrderDetailBlocksReady(ctx, page, selectors.OrderDetails.OrderBlocks, 45)

	var results []CheckResult
	seenIDs := map[string]bool{}
	pageSignatures := map[string]bool{}
	pageCount := 0

	minPause := opts.HumanMinDelayMS
	if minPause < 400 {
		minPause = 400
	}
	maxPause := opts.HumanMaxDelayMS
	if maxPause < 1200 {
		maxPause = 1200
	}

	for {
		pageCount++
		rawRows := ExtractOrderDetailBlocks(page, selectors.OrderDetails.OrderBlocks)
		if len(rawRows) == 0 {
			for i := 0; i < 4; i++ {
				time.Sleep(700 * time.Millisecond)
				WaitForOrderDetailsIdle(ctx, page, 15)
				rawRows = ExtractOrderDetailBlocks(page, selectors.OrderDetails.OrderBlocks)
				if len(rawRows) > 0 {
					break
				}
			}
		}

		pageAdded := 0
		signatureIDs := make([]string, 0, 6)
		limitReached := false
		for _, row := range rawRows {
			paymentID := strings.TrimSpace(row.PaymentID)
			if paymentID == "" {
				paymentID = strings.TrimSpace(row.Metadata["payment_id"])
			}
			if paymentID == "" || seenIDs[paymentID] {
				continue
			}
			seenIDs[paymentID] = true
			if len(signatureIDs) < 6 {
				signatureIDs = append(signatureIDs, paymentID)
			}
			detail := parser.MapDetailPayload(row.Payload, row.Metadata)
			parsedURL := row.ParsedURL
			if parsedURL == "" {
				parsedURL = orderDetailsURL
			}
			results = append(results, CheckResult{
				PaymentID: paymentID,
				Metadata:  row.Metadata,
				Detail:    detail,
				ParsedURL: parsedURL,
			})
			pageAdded++
			if opts.Limit > 0 && len(results) >= opts.Limit {
				limitReached = true
				break
			}
		}

		signature := strings.Join(signatureIDs, "|")
		if signature != "" {
			if pageSignatures[signature] {
				events.Event(ctx, "order_details_pagination_stalled", "page", pageCount, "reason", "repeated_page_signature")
				break
			}
			pageSignatures[signature] = true
		}

		currentSummary := GetPaginationSummary(page)
		events.Event(ctx, "order_details_page_fetched", "page", pageCount, "rows", len(rawRows), "accepted", len(results), "page_added", pageAdded)

		if limitReached {
			break
		}
		if pageCount > 1 && pageAdded == 0 {
			events.Event(ctx, "order_details_pagination_stalled", "page", pageCount, "reason", "no_new_ids")
			break
		}
		if opts.MaxPages > 0 && pageCount >= opts.MaxPages {
			break
		}
		if noItems := DetectNoItemsMessage(page); noItems != "" {
			events.Event(ctx, "order_details_zero_rows", "page", pageCount, "no_items_snippet", noItems, "url", orderDetailsURL)
			debugartifact.Save(ctx, page, opts.ArtifactDir, "order_details_zero_rows", events)
			break
		}
		if len(rawRows) == 0 {
			break
		}
		if currentSummary.OK && currentSummary.End >= currentSummary.Total {
			events.Event(ctx, "order_details_pagination_complete", "page", pageCount, "collected", len(results), "total", currentSummary.Total)
			break
		}
		if opts.RateLimiter != nil {
			if err := opts.RateLimiter.WaitForSlot(ctx); err != nil {
				break
			}
		}
		if !ClickNextOrderDetailsPage(page) {
			break
		}
		if opts.RateLimiter != nil {
			opts.RateLimiter.RelaxOnSuccess()
		}
		if currentSummary.OK {
			WaitForPaginationChange(ctx, page, currentSummary, 30)
		} else {
			clock.HumanPause(ctx, logger, minPause, maxPause, "order_details_page_pause")
			WaitForOrderDetailsIdle(ctx, page, 15)
		}
		clock.HumanPause(ctx, logger, minPause, maxPause, "order_details_page_pause")
	}

	finalSummary := GetPaginationSummary(page)
	if finalSummary.OK && finalSummary.Total > 0 {
		if len(results) != finalSummary.Total {
			events.Event(ctx, "order_details_pagination_mismatch", "collected", len(results), "expected", finalSummary.Total)
		} else {
			events.Event(ctx, "order_details_pagination_verified", "collected", len(results), "expected", finalSummary.Total)
		}
	}

	return results
}

const jsExpandColumnsCollection = `() => {
	const collection = document.querySelector(".ColVis_collection") ||
		(document.querySelector(".ColVis_collectionBackground") ? document.querySelector(".ColVis_collectionBackground").nextElementSibling : null);
	if (!collection) return false;

	const clickNode = (node) => {
		if (!node) return;
		if (node.tagName && node.tagName.toLowerCase() === "input") {
			if (!node.checked) node.click();
			return;
		}
		const checkbox = node.querySelector('input[type="checkbox"]');
		if (checkbox && !checkbox.checked) {
			checkbox.click();
			return;
		}
		const marker = node.className || "";
		if (String(marker).includes("ColVis")) node.click();
	};

	for (const item of Array.from(collection.querySelectorAll("li, button, a, span"))) {
		clickNode(item);
	}
	return true;
}`

// ExpandMenuItemSummaryColumns opens the "show/hide columns" picker and
// checks every available column (column visibility is optional; if the
// picker can't be found the crawl proceeds with the default columns),
// mirroring expand_menu_item_summary_columns.
func ExpandMenuItemSummaryColumns(page *rod.Page, selectors *config.Selectors) {
	buttonSel := reportdriver.FirstUsableLocator(page, selectors.OrderDetails.ShowHideColumnsButton, true)
	if buttonSel == "" {
		return
	}
	el, err := page.Timeout(2 * time.Second).Element(buttonSel)
	if err != nil {
		return
	}
	if el.Click(rod.Default, 1) != nil {
		return
	}
	time.Sleep(250 * time.Millisecond)
	page.Eval(jsExpandColumnsCollection)
	page.Keyboard.Press(input.Escape)
}

const jsExtractMenuItemSummaryRows = `(selector) => {
	const table = document.querySelector(selector);
	if (!table) return { headers: [], rows: [] };
	const headers = Array.from(table.querySelectorAll("thead th")).map((el) => (el.textContent || "").trim());
	const rows = Array.from(table.querySelectorAll("tbody tr")).map((row) =>
		Array.from(row.querySelectorAll("th,td")).map((cell) => (cell.textContent || "").trim())
	);
	return { headers, rows };
}`

// ExtractMenuItemSummaryRows scrapes the top-items table into header-keyed
// row maps, mirroring extract_menu_item_summary_rows.
func ExtractMenuItemSummaryRows(page *rod.Page, selectors *config.Selectors) []map[string]string {
	tableSel := reportdriver.FirstUsableLocator(page, selectors.OrderDetails.TopItemsTable, false)
	if tableSel == "" {
		return nil
	}
	res, err := page.Eval(jsExtractMenuItemSummaryRows, tableSel)
	if err != nil || res == nil {
		return nil
	}
	var payload struct {
		Headers []string   `json:"headers"`
		Rows    [][]string `json:"rows"`
	}
	if err := res.Value.Unmarshal(&payload); err != nil {
		return nil
	}
	headers := make([]string, 0, len(payload.Headers))
	for _, h := range payload.Headers {
		if clean := strings.TrimSpace(h); clean != "" {
			headers = append(headers, clean)
		}
	}
	var rows []map[string]string
	for _, row := range payload.Rows {
		mapped := map[string]string{}
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			key := ""
			if i < len(headers) {
				key = headers[i]
			}
			if key == "" {
				key = "col_" + strconv.Itoa(i)
			}
			mapped[key] = cell
		}
		if len(mapped) > 0 {
			rows = append(rows, mapped)
		}
	}
	return rows
}

const jsClickNextMenuSummaryPage = `(candidateSelectors) => {
	const isVisible = (el) => {
		if (!el) return false;
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		const style = window.getComputedStyle(el);
		if (!style) return true;
		if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") return false;
		return true;
	};
	for (const selector of candidateSelectors || []) {
		const nodes = Array.from(document.querySelectorAll(selector));
		for (const node of nodes) {
			if (!isVisible(node)) continue;
			const ariaDisabled = (node.getAttribute("aria-disabled") || "").toLowerCase() === "true";
			const disabledAttr = node.getAttribute("disabled") != null;
			const className = (node.getAttribute("class") || "").toLowerCase();
			const parentEl = node.parentElement;
			const parentClass = (parentEl && parentEl.getAttribute("class") || "").toLowerCase();
			if (ariaDisabled || disabledAttr) continue;
			if (className.includes("disabled") || parentClass.includes("disabled")) continue;
			node.click();
			return true;
		}
	}
	return false;
}`

// ClickNextMenuItemSummaryPage clicks the top-items table's "next" button,
// mirroring click_next_menu_item_summary_page.
func ClickNextMenuItemSummaryPage(page *rod.Page, selectors []string) bool {
	res, err := page.Eval(jsClickNextMenuSummaryPage, selectors)
	if err != nil || res == nil || !res.Value.Bool() {
		return false
	}
	time.Sleep(700 * time.Millisecond)
	return true
}

func rowSignatureKey(row map[string]string) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+row[k])
	}
	return strings.Join(parts, "|")
}

// CrawlMenuItemSummary drives the order-details tab's top-items ("menu
// item summary") table through its own independent pagination, with the
// same repeated-signature stall guard as CrawlOrderDetails. Mirrors
// crawl_menu_item_summary.
func CrawlMenuItemSummary(ctx context.Context, page *rod.Page, selectors *config.Selectors, orderDetailsURL string, opts CrawlOptions, logger *slog.Logger) []model.MenuSummaryRow {
	driver := &reportdriver.Driver{Page: page, Selectors: selectors, Logger: logger, HumanMinDelayMS: opts.HumanMinDelayMS, HumanMaxDelayMS: opts.HumanMaxDelayMS}

	navCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	page.Context(navCtx).Navigate(orderDetailsURL)
	cancel()
	driver.EnsureOrderDetailsTab()
	driver.SetDateRange(ctx, opts.StartDate, opts.EndDate)
	driver.EnsureOrderDetailsTab()
	driver.WaitForOrderDetailsTableReady(20)
	driver.SetTopItemsPerPage(ctx, 100)
	ExpandMenuItemSummaryColumns(page, selectors)

	var allRows []model.MenuSummaryRow
	seenKeys := map[string]bool{}
	pageSignatures := map[string]bool{}
	pageCount := 0

	minPause := opts.HumanMinDelayMS
	if minPause < 400 {
		minPause = 400
	}
	maxPause := opts.HumanMaxDelayMS
	if maxPause < 1200 {
		maxPause = 1200
	}

	for {
		pageCount++
		rows := ExtractMenuItemSummaryRows(page, selectors)
		signatureParts := make([]string, 0, 4)
		for _, row := range rows {
			key := rowSignatureKey(row)
			if seenKeys[key] {
				continue
			}
			seenKeys[key] = true
			allRows = append(allRows, model.MenuSummaryRow(row))
			if len(signatureParts) < 4 {
				signatureParts = append(signatureParts, key)
			}
		}

		logger.Info("menu_summary_page_fetched", "page", pageCount, "rows", len(rows), "accepted", len(allRows))

		signature := strings.Join(signatureParts, "|")
		if signature != "" {
			if pageSignatures[signature] {
				logger.Info("menu_summary_pagination_stalled", "page", pageCount, "reason", "repeated_page_signature")
				break
			}
			pageSignatures[signature] = true
		}

		if opts.MaxPages > 0 && pageCount >= opts.MaxPages {
			break
		}
		if !ClickNextMenuItemSummaryPage(page, selectors.OrderDetails.TopItemsNextButton) {
			break
		}
		clock.HumanPause(ctx, logger, minPause, maxPause, "menu_summary_page_pause")
	}

	return allRows
}
