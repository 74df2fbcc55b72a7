// Package authgate drives the login state machine for the shared browser
// session: detecting a Cloudflare/Turnstile-style interstitial and waiting
// it out, dismissing Toast's post-login "remind me later" prompts,
// filling credentials when available, and falling back to a manual-login
// wait when they aren't. It merges the teacher's challenge.Detector (CDN
// challenge detection) and consent.Dismisser (post-login prompt
// dismissal) into one gate, since both guard the same transition —
// unauthenticated page to authenticated page — and the spec's taxonomy
// treats every stuck challenge as the single AUTH_BLOCKED condition
// rather than a menu of CAPTCHA types to solve.
package authgate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/jmylchreest/toastextract/internal/clock"
	"github.com/jmylchreest/toastextract/internal/config"
	"github.com/jmylchreest/toastextract/internal/debugartifact"
	"github.com/jmylchreest/toastextract/internal/logging"
	"github.com/jmylchreest/toastextract/internal/scrapeerr"
)

// Options bundles the knobs EnsureAuthenticated needs, mirroring the
// Python original's ensure_authenticated keyword arguments.
type Options struct {
	TimeoutSec          int
	MaxAttempts         int
	ChallengeTimeoutSec int
	Credentials         *config.Credentials
	AllowManualLogin    bool
	HumanMinDelayMS     int
	HumanMaxDelayMS     int
	// ArtifactDir, when non-empty, is where a debug screenshot/HTML/JSON
	// bundle is written on an unclearable challenge or an attempt timeout.
	ArtifactDir string
}

var challengeMarkers = []string{
	"text/Verifying you are human",
	"input[name='cf-turnstile-response']",
	"script[src*='challenge-platform']",
}

// titleIndicatesChallenge reports whether a page title is Cloudflare's
// interstitial title, split out as a pure function so it's testable
// without a live page.
func titleIndicatesChallenge(title string) bool {
	return strings.Contains(strings.ToLower(title), "just a moment")
}

// urlIndicatesLoggedOut reports whether a page URL itself signals a
// logged-out session (Toast redirects to a /login path).
func urlIndicatesLoggedOut(url string) bool {
	return strings.Contains(strings.ToLower(url), "login")
}

// urlIndicatesAuthenticated reports whether a page URL is on the reports
// dashboard.
func urlIndicatesAuthenticated(url string) bool {
	return strings.Contains(strings.ToLower(url), "restaurants/admin/reports")
}

// IsCloudflareChallenge reports whether the current page is showing a
// Cloudflare (or similarly shaped) bot-challenge interstitial, checked by
// page title first, then a small set of DOM markers, mirroring
// is_cloudflare_challenge.
func IsCloudflareChallenge(page *rod.Page) bool {
	info, err := page.Info()
	if err == nil && titleIndicatesChallenge(info.Title) {
		return true
	}
	for _, marker := range challengeMarkers {
		has, _, err := page.Has(marker)
		if err == nil && has {
			return true
		}
	}
	return false
}

// WaitForChallengeClear polls IsCloudflareChallenge once a second until it
// clears or timeoutSec elapses, mirroring wait_for_challenge_clear.
func WaitForChallengeClear(ctx context.Context, page *rod.Page, timeoutSec int) bool {
	if timeoutSec <= 0 {
		return !IsCloudflareChallenge(page)
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	for time.Now().Before(deadline) {
		if !IsCloudflareChallenge(page) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
	return false
}

// IsLoggedOut reports whether the page is showing Toast's login form,
// mirroring is_logged_out.
func IsLoggedOut(page *rod.Page, selectors *config.Selectors) bool {
	info, err := page.Info()
	if err == nil && urlIndicatesLoggedOut(info.URL) {
		return true
	}
	return anyVisible(page, selectors.Auth.LoggedOutMarkers)
}

// IsAuthenticated reports whether the page is on the reports dashboard
// (and not simultaneously showing a logged-out marker), or shows one of
// the configured authenticated markers, mirroring is_authenticated.
func IsAuthenticated(page *rod.Page, selectors *config.Selectors) bool {
	info, err := page.Info()
	if err == nil && urlIndicatesAuthenticated(info.URL) && !IsLoggedOut(page, selectors) {
		return true
	}
	return anyVisible(page, selectors.Auth.AuthenticatedMarkers)
}

// DismissPostLoginPrompts clicks the first visible "not now"-style button
// (device-enrollment nags, "remind me later", etc.), mirroring
// dismiss_post_login_prompts.
func DismissPostLoginPrompts(ctx context.Context, page *rod.Page, selectors *config.Selectors, events *logging.EventLogger) bool {
	clicked := clickFirstAvailable(page, selectors.Auth.NotNowButtons)
	if clicked {
		page.WaitLoad()
		time.Sleep(800 * time.Millisecond)
		events.Event(ctx, "auth_prompt_dismissed", "prompt", "not_now")
	}
	return clicked
}

func firstUsableLocator(page *rod.Page, selectors []string) string {
	for _, sel := range selectors {
		has, el, err := page.Has(sel)
		if err != nil || !has || el == nil {
			continue
		}
		visible, err := el.Visible()
		if err == nil && visible {
			return sel
		}
	}
	return ""
}

func clickFirstAvailable(page *rod.Page, selectors []string) bool {
	sel := firstUsableLocator(page, selectors)
	if sel == "" {
		return false
	}
	el, err := page.Element(sel)
	if err != nil {
		return false
	}
	return el.Click(rod.Default, 1) == nil
}

func anyVisible(page *rod.Page, selectors []string) bool {
	return firstUsableLocator(page, selectors) != ""
}

// tryLoginWithCredentials fills the username (if a username field is
// present — some returning sessions skip straight to a password field),
// then the password, clicking "Continue"/"Log in" between steps. Mirrors
// try_login_with_credentials.
func tryLoginWithCredentials(ctx context.Context, page *rod.Page, selectors *config.Selectors, creds *config.Credentials, logger *slog.Logger, minMS, maxMS int) bool {
	if userSel := firstUsableLocator(page, selectors.Auth.UsernameInputs); userSel != "" {
		if el, err := page.Element(userSel); err == nil {
			el.Input(creds.Username)
			clock.HumanPause(ctx, logger, minMS, maxMS, "auth_filled_username")
			if contSel := firstUsableLocator(page, selectors.Auth.SubmitButtons); contSel != "" {
				if btn, err := page.Element(contSel); err == nil {
					btn.Click(rod.Default, 1)
					page.WaitLoad()
					time.Sleep(1200 * time.Millisecond)
					clock.HumanPause(ctx, logger, minMS, maxMS, "auth_clicked_continue")
				}
			}
		}
	}

	passSel := firstUsableLocator(page, selectors.Auth.PasswordInputs)
	if passSel == "" {
		return false
	}
	el, err := page.Element(passSel)
	if err != nil {
		return false
	}
	el.Input(creds.Password)
	clock.HumanPause(ctx, logger, minMS, maxMS, "auth_filled_password")
	if submitSel := firstUsableLocator(page, selectors.Auth.SubmitButtons); submitSel != "" {
		if btn, err := page.Element(submitSel); err == nil {
			btn.Click(rod.Default, 1)
			clock.HumanPause(ctx, logger, minMS, maxMS, "auth_clicked_submit")
		}
	}
	return true
}

// EnsureAuthenticated drives the page from wherever it is to the
// authenticated reports dashboard: navigate, clear any CDN challenge,
// dismiss post-login prompts, then either return immediately (already
// authenticated), attempt scripted credential login up to opts.MaxAttempts
// times, or wait for a human to complete login manually. Returns a
// scrapeerr-classified error on failure: AuthBlocked for an unclearable
// challenge, Fatal for exhausted login attempts or missing credentials.
// Mirrors ensure_authenticated.
func EnsureAuthenticated(ctx context.Context, page *rod.Page, selectors *config.Selectors, orderDetailsURL string, opts Options, logger *slog.Logger) error {
	events := logging.NewEventLogger(logger)

	navCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	if err := page.Context(navCtx).Navigate(orderDetailsURL); err != nil {
		logger.Warn("auth_nav_warning", "error", err)
	}
	cancel()
	clock.HumanPause(ctx, logger, opts.HumanMinDelayMS, opts.HumanMaxDelayMS, "auth_post_nav")

	if IsCloudflareChallenge(page) {
		events.Event(ctx, "auth_challenge_detected", "phase", "initial")
		if !WaitForChallengeClear(ctx, page, opts.ChallengeTimeoutSec) {
			debugartifact.Save(ctx, page, opts.ArtifactDir, "cloudflare_challenge_timeout", events)
			return scrapeerr.New(scrapeerr.ClassAuthBlocked, "Cloudflare challenge did not clear")
		}
	}

	DismissPostLoginPrompts(ctx, page, selectors, events)
	if IsAuthenticated(page, selectors) {
		return nil
	}

	if opts.Credentials == nil {
		if opts.AllowManualLogin {
			events.Event(ctx, "auth_manual_login_required")
			deadline := time.Now().Add(time.Duration(opts.TimeoutSec) * time.Second)
			for time.Now().Before(deadline) {
				DismissPostLoginPrompts(ctx, page, selectors, events)
				if IsAuthenticated(page, selectors) {
					events.Event(ctx, "auth_manual_login_detected")
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
			}
			debugartifact.Save(ctx, page, opts.ArtifactDir, "manual_auth_timeout", events)
			return scrapeerr.New(scrapeerr.ClassFatal, "AUTH_FAILED: manual login timeout")
		}
		return scrapeerr.New(scrapeerr.ClassFatal, "AUTH_FAILED: no usable credentials found in env file")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		events.Event(ctx, "auth_attempt_start", "attempt", attempt, "max_attempts", maxAttempts)
		tryLoginWithCredentials(ctx, page, selectors, opts.Credentials, logger, opts.HumanMinDelayMS, opts.HumanMaxDelayMS)

		if IsCloudflareChallenge(page) {
			events.Event(ctx, "auth_challenge_detected", "phase", "post_submit", "attempt", attempt)
			if !WaitForChallengeClear(ctx, page, opts.ChallengeTimeoutSec) {
				continue
			}
		}

		deadline := time.Now().Add(time.Duration(opts.TimeoutSec) * time.Second)
		for time.Now().Before(deadline) {
			DismissPostLoginPrompts(ctx, page, selectors, events)
			if IsAuthenticated(page, selectors) {
				events.Event(ctx, "auth_attempt_success", "attempt", attempt)
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		reNavCtx, reCancel := context.WithTimeout(ctx, 45*time.Second)
		_ = page.Context(reNavCtx).Navigate(orderDetailsURL)
		reCancel()
		DismissPostLoginPrompts(ctx, page, selectors, events)
		events.Event(ctx, "auth_attempt_timeout", "attempt", attempt)
		debugartifact.Save(ctx, page, opts.ArtifactDir, "auth_attempt_timeout", events)
	}

	return scrapeerr.New(scrapeerr.ClassFatal, "AUTH_FAILED: credential login did not reach Toast reports dashboard")
}
