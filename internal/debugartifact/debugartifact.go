// Package debugartifact writes the screenshot/HTML/structural-JSON bundle
// captured on a notable failure — an unclearable Cloudflare challenge, an
// auth attempt that timed out, or a report page that came back with zero
// rows — so a live incident can be diagnosed after the fact without being
// able to reproduce it. It mirrors the Python original's
// save_order_details_debug_artifacts (toast_extract.py:942-973), folding in
// its sibling capture_debug_artifacts (toast_extract.py:1280-1292, used at
// the auth/challenge call sites) since both write the same screenshot+HTML
// pair and only the original's zero-rows path wanted the extra JSON dump.
package debugartifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-rod/rod"

	"github.com/jmylchreest/toastextract/internal/logging"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// sanitizeLabel mirrors the original's re.sub(r"[^a-zA-Z0-9_.-]+", "_", label).
func sanitizeLabel(label string) string {
	safe := strings.Trim(unsafeChars.ReplaceAllString(label, "_"), "_")
	if safe == "" {
		return "debug"
	}
	return safe
}

const jsPageStructureSummary = `() => {
	const tables = Array.from(document.querySelectorAll('table')).map((t) => {
		const id = t.id || '';
		const cls = (t.className || '').toString();
		const headers = Array.from(t.querySelectorAll('thead th'))
			.map((th) => (th.textContent || '').trim())
			.filter(Boolean);
		const rows = t.querySelectorAll('tbody tr').length;
		return { id, cls, headers: headers.slice(0, 12), rows };
	});
	const blocks = document.querySelectorAll('.order-border').length;
	return { url: location.href, title: document.title, blocks, tables };
}`

// Save writes <label>.png (full-page screenshot), <label>.html, and
// <label>.json (a structural summary: table headers/row counts and
// .order-border block count) under artifactDir, sanitizing label into a
// filesystem-safe stem first. Every step is best-effort, matching the
// original's per-step try/except: a failed screenshot shouldn't prevent
// the HTML dump, and a missing artifactDir disables capture entirely
// rather than erroring the caller's notable-failure path. Emits
// order_details_debug_saved on success.
func Save(ctx context.Context, page *rod.Page, artifactDir, label string, events *logging.EventLogger) {
	if artifactDir == "" || page == nil {
		return
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return
	}
	safe := sanitizeLabel(label)

	if shot, err := page.Screenshot(true, nil); err == nil {
		_ = os.WriteFile(filepath.Join(artifactDir, safe+".png"), shot, 0o644)
	}

	if html, err := page.HTML(); err == nil {
		_ = os.WriteFile(filepath.Join(artifactDir, safe+".html"), []byte(html), 0o644)
	}

	res, err := page.Eval(jsPageStructureSummary)
	if err != nil || res == nil {
		return
	}
	summary, err := json.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(artifactDir, safe+".json"), summary, 0o644); err != nil {
		return
	}

	if events != nil {
		events.Event(ctx, "order_details_debug_saved", "label", label, "artifact_dir", artifactDir)
	}
}
