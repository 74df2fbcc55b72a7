// Package browsersession owns the single, persistent-profile Chrome
// instance a run drives: one rod.Browser launched against a durable
// UserDataDir (so cookies and the Toast login survive across runs), one
// shared Page used for both navigation and evaluate() calls, and the
// stealth patches needed to avoid the obvious headless tells. This
// replaces the teacher's browser.Pool — a pool of many short-lived,
// ephemeral browsers doesn't fit a scraper that wants exactly one
// authenticated, cookie-bearing profile reused across an entire run.
package browsersession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/jmylchreest/toastextract/internal/scrapeerr"
)

// LaunchOptions configures the persistent-profile browser, mirroring the
// Python original's build_launch_kwargs.
type LaunchOptions struct {
	UserDataDir    string
	BrowserChannel string
	Headless       bool
	HeadlessUserAgent string
}

// Session wraps one persistent-profile rod.Browser and its single shared
// Page.
type Session struct {
	Browser *rod.Browser
	Page    *rod.Page
	logger  *slog.Logger
	opts    LaunchOptions
}

// Open launches (or attaches to) the persistent Chrome profile at
// opts.UserDataDir and returns a Session with one stealth-patched page
// ready to navigate. A profile directory already locked by another live
// Chrome process surfaces as scrapeerr.ClassProfileLocked so the
// orchestrator can fail fast with a clear diagnosis rather than hanging.
func Open(ctx context.Context, opts LaunchOptions, logger *slog.Logger) (*Session, error) {
	if err := checkProfileLock(opts.UserDataDir); err != nil {
		return nil, err
	}

	l := launcher.New().
		UserDataDir(opts.UserDataDir).
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-infobars").
		Set("lang", "en-US,en")

	if opts.BrowserChannel != "" {
		l = l.Bin(resolveChannelBinary(opts.BrowserChannel))
	}

	u, err := l.Launch()
	if err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.ClassFatal, "launch browser", err)
	}

	browser := rod.New().Context(ctx).ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, scrapeerr.Wrap(scrapeerr.ClassFatal, "connect to browser", err)
	}

	page, err := createStealthPage(browser)
	if err != nil {
		browser.Close()
		return nil, scrapeerr.Wrap(scrapeerr.ClassFatal, "create stealth page", err)
	}

	if opts.Headless && opts.HeadlessUserAgent != "" {
		if err := page.SetUserAgent(&rod.UserAgent{UserAgent: opts.HeadlessUserAgent}); err != nil {
			logger.Warn("set_user_agent_failed", "error", err)
		}
	}

	logger.Info("browser_session_opened", "user_data_dir", opts.UserDataDir, "headless", opts.Headless)
	return &Session{Browser: browser, Page: page, logger: logger, opts: opts}, nil
}

// resolveChannelBinary maps a browser channel name to a launcher.Bin()
// path hint. Only "chrome" is special-cased (to the platform's stable
// Chrome rather than rod's bundled Chromium, avoiding crashes seen with
// Testing builds); anything else falls through to rod's auto-download.
func resolveChannelBinary(channel string) string {
	if channel != "chrome" {
		return ""
	}
	for _, candidate := range []string{
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// checkProfileLock detects a "SingletonLock" file Chrome leaves behind
// while a profile is in active use, the same marker Chrome itself checks
// before reusing a user-data-dir.
func checkProfileLock(userDataDir string) error {
	lockPath := userDataDir + "/SingletonLock"
	if _, err := os.Lstat(lockPath); err == nil {
		return scrapeerr.Wrap(scrapeerr.ClassProfileLocked, fmt.Sprintf("profile %s appears to be in use by another Chrome process", userDataDir), errors.New(lockPath))
	}
	return nil
}

// Close shuts down the browser.
func (s *Session) Close() error {
	if s.Browser == nil {
		return nil
	}
	return s.Browser.Close()
}

// Logout navigates to Toast's logout endpoint and closes the session, used
// by the orchestrator's AUTH_BLOCKED recovery path before an optional
// profile wipe, mirroring logout_and_reset_profile.
func (s *Session) Logout(ctx context.Context) error {
	pageCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	err := s.Page.Context(pageCtx).Navigate("https://www.toasttab.com/logout")
	if err != nil {
		s.logger.Warn("logout_navigate_failed", "error", err)
		return err
	}
	s.Page.WaitLoad()
	time.Sleep(time.Second)
	return nil
}

// ResetProfile removes the persistent profile directory entirely so the
// next Open starts from a clean, logged-out Chrome profile, mirroring the
// reset_profile_on_auth_block branch of logout_and_reset_profile.
func ResetProfile(userDataDir string, logger *slog.Logger) error {
	if err := os.RemoveAll(userDataDir); err != nil {
		logger.Error("profile_reset_error", "error", err)
		return err
	}
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		logger.Error("profile_reset_mkdir_error", "error", err)
		return err
	}
	logger.Info("profile_reset_done", "profile", userDataDir)
	return nil
}
