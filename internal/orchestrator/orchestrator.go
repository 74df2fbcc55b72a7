// Package orchestrator drives one end-to-end scrape run: load the
// authoritative state, open the persistent browser profile, clear the auth
// gate, crawl order details and the menu item summary, and persist the
// result. It also owns the outer AUTH_BLOCKED recovery loop — logout,
// optional profile wipe, jittered cooldown, bounded restart — mirroring
// the Python original's run_once/run pair the way the teacher's
// cmd/captcha-server/main.go mirrors a load-config/build-logger/wire-
// components/graceful-shutdown sequence, adapted from an HTTP server's
// lifecycle to a bounded-retry batch run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/toastextract/internal/authgate"
	"github.com/jmylchreest/toastextract/internal/browsersession"
	"github.com/jmylchreest/toastextract/internal/clock"
	"github.com/jmylchreest/toastextract/internal/config"
	"github.com/jmylchreest/toastextract/internal/logging"
	"github.com/jmylchreest/toastextract/internal/model"
	"github.com/jmylchreest/toastextract/internal/pagination"
	"github.com/jmylchreest/toastextract/internal/parser"
	"github.com/jmylchreest/toastextract/internal/ratelimit"
	"github.com/jmylchreest/toastextract/internal/scrapeerr"
	"github.com/jmylchreest/toastextract/internal/state"
	"github.com/jmylchreest/toastextract/internal/statecache"
)

// RunIDSource generates the per-run identifier. Real runs use NewRunID;
// tests substitute a deterministic source since time.Now/ULID's internal
// entropy source both resist equality assertions otherwise.
type RunIDSource func(attempt int) string

// NewRunID returns a sortable ULID (lexically ordered by generation time,
// unlike the Python original's strftime timestamp) with the restart
// attempt number suffixed on, so "run_complete" log lines and progress
// snapshots from the same logical run remain distinguishable across
// AUTH_BLOCKED restarts the way the Python suffix was.
func NewRunID(attempt int) string {
	id := ulid.Make()
	return fmt.Sprintf("%s-a%d", id.String(), attempt)
}

// Deps bundles every already-constructed dependency Run needs, so the
// orchestrator itself never touches os.Getenv or the filesystem directly
// beyond what state.Store/state.AppendError already do.
type Deps struct {
	Config      *config.Config
	Selectors   *config.Selectors
	Credentials *config.Credentials
	Logger      *slog.Logger
	Clock       *clock.Clock
	RunIDSource RunIDSource
}

// Result summarizes one call to Run, for a caller (cmd/toastextract) that
// wants an exit code without re-deriving it from logs.
type Result struct {
	AuthBlockedRestarts int
	Fatal               error
}

// Run drives the bounded AUTH_BLOCKED-restart loop around RunOnce,
// mirroring the Python original's run(): attempt RunOnce up to
// cfg.AuthBlockRestarts+1 times, logging out and optionally wiping the
// profile between attempts, sleeping a jittered cooldown, and giving up
// with a Fatal result once the budget is exhausted.
func Run(ctx context.Context, deps Deps) Result {
	cfg := deps.Config
	logger := deps.Logger
	runIDSource := deps.RunIDSource
	if runIDSource == nil {
		runIDSource = NewRunID
	}

	maxAttempts := cfg.AuthBlockRestarts + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		runID := runIDSource(attempt)
		runCtx := logging.WithRunID(ctx, runID)
		events := logging.NewEventLogger(logger)
		events.Event(runCtx, "run_start", "attempt", attempt, "max_attempts", maxAttempts)

		err := RunOnce(runCtx, deps, runID)
		if err == nil {
			events.Event(runCtx, "run_complete", "attempt", attempt)
			return Result{AuthBlockedRestarts: attempt - 1}
		}

		lastErr = err
		if !scrapeerr.IsAuthBlocked(err) {
			events.Event(runCtx, "run_failed", "attempt", attempt, "error", err.Error(), "class", string(scrapeerr.ClassOf(err)))
			return Result{AuthBlockedRestarts: attempt - 1, Fatal: err}
		}

		events.Event(runCtx, "run_restart", "reason", "auth_blocked", "attempt", attempt, "error", err.Error())
		if attempt == maxAttempts {
			break
		}

		logoutAndResetProfile(ctx, deps, logger)

		cooldown := time.Duration(cfg.AuthBlockCooldownSec)*time.Second + clock.JitterMS(0, 3000)
		events.Event(runCtx, "auth_block_cooldown", "seconds", cooldown.Seconds())
		select {
		case <-time.After(cooldown):
		case <-ctx.Done():
			return Result{AuthBlockedRestarts: attempt, Fatal: ctx.Err()}
		}
	}

	return Result{AuthBlockedRestarts: maxAttempts - 1, Fatal: fmt.Errorf("AUTH_BLOCKED: exhausted %d attempt(s): %w", maxAttempts, lastErr)}
}

// logoutAndResetProfile opens a throwaway session purely to hit the logout
// endpoint (best-effort — a challenge-blocked page may not even let the
// navigation through) and, if configured, wipes the persistent profile
// directory so the next attempt starts from a clean, logged-out Chrome
// profile. Mirrors logout_and_reset_profile.
func logoutAndResetProfile(ctx context.Context, deps Deps, logger *slog.Logger) {
	cfg := deps.Config
	sess, err := browsersession.Open(ctx, browsersession.LaunchOptions{
		UserDataDir:       cfg.UserDataDir,
		BrowserChannel:    cfg.BrowserChannel,
		Headless:          cfg.Headless,
		HeadlessUserAgent: cfg.HeadlessUserAgent,
	}, logger)
	if err == nil {
		_ = sess.Logout(ctx)
		sess.Close()
	} else {
		logger.Warn("auth_block_logout_session_failed", "error", err)
	}

	if cfg.ResetProfileOnAuthBlock {
		if err := browsersession.ResetProfile(cfg.UserDataDir, logger); err != nil {
			logger.Warn("auth_block_profile_reset_failed", "error", err)
		}
	}
}

// RunOnce performs exactly one pass: load state, open the browser, clear
// auth, crawl (unless skipped), save, and report. It never retries —
// that is Run's job — and always returns the browser session closed.
// Mirrors run_once.
func RunOnce(ctx context.Context, deps Deps, runID string) error {
	cfg := deps.Config
	selectors := deps.Selectors
	logger := logging.FromContext(ctx, deps.Logger)
	events := logging.NewEventLogger(deps.Logger)

	if cfg.RefreshMetadata && !cfg.SkipMetadata && (cfg.StartDate == "" || cfg.EndDate == "") {
		return scrapeerr.New(scrapeerr.ClassFatal, "refresh_metadata requires --start-date and --end-date")
	}

	store, err := state.Load(cfg.StateFile)
	if err != nil {
		return scrapeerr.Wrap(scrapeerr.ClassFatal, "load state file", err)
	}
	events.Event(ctx, "state_loaded", "records", store.Len())

	cache, err := statecache.Open(cfg.SessionDBPath, deps.Logger)
	if err != nil {
		logger.Warn("statecache_open_failed", "error", err)
		cache = nil
	}
	defer cache.Close()
	if err := cache.Rebuild(store.Snapshot()); err != nil {
		logger.Warn("statecache_rebuild_failed", "error", err)
	}

	sess, err := browsersession.Open(ctx, browsersession.LaunchOptions{
		UserDataDir:       cfg.UserDataDir,
		BrowserChannel:    cfg.BrowserChannel,
		Headless:          cfg.Headless,
		HeadlessUserAgent: cfg.HeadlessUserAgent,
	}, deps.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	orderDetailsURL := config.OrderDetailsURL()

	// Mirrors the original's artifact_dir = Path(args.artifact_dir) / run_id:
	// every run gets its own debug-artifact subdirectory so successive
	// AUTH_BLOCKED restarts don't overwrite each other's captures.
	var artifactDir string
	if cfg.ArtifactDir != "" {
		artifactDir = filepath.Join(cfg.ArtifactDir, runID)
	}

	authErr := authgate.EnsureAuthenticated(ctx, sess.Page, selectors, orderDetailsURL, authgate.Options{
		TimeoutSec:          cfg.AuthTimeoutSec,
		MaxAttempts:         cfg.AuthMaxAttempts,
		ChallengeTimeoutSec: cfg.ChallengeTimeoutSec,
		Credentials:         deps.Credentials,
		AllowManualLogin:    cfg.AllowManualLogin,
		HumanMinDelayMS:     cfg.HumanMinDelayMS,
		HumanMaxDelayMS:     cfg.HumanMaxDelayMS,
		ArtifactDir:         artifactDir,
	}, logger)
	if authErr != nil {
		return authErr
	}
	events.Event(ctx, "auth_gate_cleared")

	limiter := ratelimit.New(cfg.DetailStartMinIntervalMS, deps.Logger)

	if cfg.SkipMetadata {
		events.Event(ctx, "metadata_crawl_skipped")
	} else {
		results := pagination.CrawlOrderDetails(ctx, sess.Page, selectors, orderDetailsURL, pagination.CrawlOptions{
			StartDate:       cfg.StartDate,
			EndDate:         cfg.EndDate,
			MaxPages:        cfg.MaxPages,
			Limit:           cfg.Limit,
			HumanMinDelayMS: cfg.HumanMinDelayMS,
			HumanMaxDelayMS: cfg.HumanMaxDelayMS,
			RateLimiter:     limiter,
			ArtifactDir:     artifactDir,
		}, deps.Logger)
		events.Event(ctx, "metadata_crawl_complete", "checks_found", len(results))

		mergeResults(store, cache, results, cfg.RefreshMetadata, cfg.ErrorLogFile, runID, deps.Logger)

		if err := store.Save(); err != nil {
			return scrapeerr.Wrap(scrapeerr.ClassFatal, "save state file", err)
		}
		if err := store.SaveProgress(cfg.ProgressFile, runID, deps.Clock.Now()); err != nil {
			logger.Warn("progress_save_failed", "error", err)
		}
		events.Event(ctx, "state_saved", "records", store.Len())
	}

	if !cfg.SkipMetadata {
		menuRows := pagination.CrawlMenuItemSummary(ctx, sess.Page, selectors, orderDetailsURL, pagination.CrawlOptions{
			StartDate:       cfg.StartDate,
			EndDate:         cfg.EndDate,
			HumanMinDelayMS: cfg.HumanMinDelayMS,
			HumanMaxDelayMS: cfg.HumanMaxDelayMS,
		}, deps.Logger)
		if err := state.SaveMenuSummary(cfg.MenuSummaryFile, menuRows); err != nil {
			logger.Warn("menu_summary_save_failed", "error", err)
		}
		events.Event(ctx, "menu_summary_saved", "rows", len(menuRows))
	}

	if cfg.MetadataOnly {
		events.Event(ctx, "detail_fetch_skipped", "reason", "metadata_only requested; fused crawl already captured full check detail inline")
		return nil
	}

	events.Event(ctx, "run_once_complete", "total_records", store.Len())
	return nil
}

// mergeResults folds a pagination.CheckResult set into store, applying the
// same precedence as merge_metadata: a fused-crawl result always carries
// fully parsed detail (Detail is never nil coming out of
// pagination.CrawlOrderDetails, since every order block is mapped through
// parser.MapDetailPayload at extraction time), so the only decision left
// is whether to overwrite an existing, already-complete record — which
// only happens when refreshMetadata was requested.
func mergeResults(store *state.Store, cache *statecache.Index, results []pagination.CheckResult, refreshMetadata bool, errorLogPath, runID string, logger *slog.Logger) {
	for _, res := range results {
		existing := store.Get(res.PaymentID)
		if existing != nil && existing.Complete && !refreshMetadata {
			existing.Metadata = mergeMetadataFields(existing.Metadata, res.Metadata)
			store.Upsert(existing)
			if err := cache.Upsert(existing); err != nil {
				logger.Warn("statecache_upsert_failed", "payment_id", existing.PaymentID, "error", err)
			}
			continue
		}

		detail := res.Detail
		if detail == nil {
			detail = parser.MapDetailPayload(parser.RawPayload{}, res.Metadata)
		}
		now := time.Now().UTC()
		rec := &model.CheckRecord{
			PaymentID:   res.PaymentID,
			Metadata:    res.Metadata,
			Data:        detail,
			Complete:    detail.Complete,
			Attempts:    1,
			ExtractedAt: &now,
			ParsedURL:   res.ParsedURL,
		}
		if existing != nil {
			rec.Attempts = existing.Attempts + 1
		}
		if len(detail.ValidationErrors) > 0 {
			msg := strings.Join(detail.ValidationErrors, "; ")
			rec.LastError = &msg
			event := model.ErrorEvent{TS: now, RunID: runID, PaymentID: res.PaymentID, Error: msg, Attempts: rec.Attempts}
			if err := state.AppendError(errorLogPath, event); err != nil {
				logger.Warn("error_log_append_failed", "payment_id", res.PaymentID, "error", err)
			}
		}
		store.Upsert(rec)
		if err := cache.Upsert(rec); err != nil {
			logger.Warn("statecache_upsert_failed", "payment_id", rec.PaymentID, "error", err)
		}
	}
}

// mergeMetadataFields folds newer row metadata into an existing record's
// metadata without discarding keys the newer crawl didn't see (e.g. a
// column present on an earlier, wider report configuration).
func mergeMetadataFields(existing, fresh map[string]string) map[string]string {
	if existing == nil {
		return fresh
	}
	merged := make(map[string]string, len(existing)+len(fresh))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range fresh {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}
