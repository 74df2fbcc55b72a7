// Package main provides the entry point for the toast-extract scraping
// engine: a single batch run over the Toast Order Details and Menu Item
// Summary reports, resumable via its on-disk state file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmylchreest/toastextract/internal/clock"
	"github.com/jmylchreest/toastextract/internal/config"
	"github.com/jmylchreest/toastextract/internal/logging"
	"github.com/jmylchreest/toastextract/internal/orchestrator"
	"github.com/jmylchreest/toastextract/internal/scrapeerr"
	"github.com/jmylchreest/toastextract/internal/statecache"
	"github.com/jmylchreest/toastextract/internal/statusserver"
	"github.com/jmylchreest/toastextract/internal/version"
)

// parseFlags binds every Python-original argparse option onto cfg in
// place, returning the populated Config. This is the thin flag surface
// SPEC_FULL.md calls for: a 1:1 mapping onto the original's CLI options,
// not a general-purpose argparsing framework.
func parseFlags(args []string, cfg *config.Config) *config.Config {
	fs := flag.NewFlagSet("toastextract", flag.ExitOnError)

	fs.StringVar(&cfg.StartDate, "start-date", cfg.StartDate, "start of the report date range (YYYY-MM-DD)")
	fs.StringVar(&cfg.EndDate, "end-date", cfg.EndDate, "end of the report date range (YYYY-MM-DD)")

	fs.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "path to the authoritative JSON state file")
	fs.StringVar(&cfg.UserDataDir, "user-data-dir", cfg.UserDataDir, "persistent Chrome profile directory")
	fs.StringVar(&cfg.BrowserChannel, "browser-channel", cfg.BrowserChannel, "Chrome channel/binary to launch")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "dotenv file holding login credentials")
	fs.StringVar(&cfg.UserVar, "user-var", cfg.UserVar, "env var name holding the username")
	fs.StringVar(&cfg.PassVar, "pass-var", cfg.PassVar, "env var name holding the password")

	fs.IntVar(&cfg.AuthTimeoutSec, "auth-timeout-sec", cfg.AuthTimeoutSec, "seconds to wait for the login form")
	fs.IntVar(&cfg.AuthMaxAttempts, "auth-max-attempts", cfg.AuthMaxAttempts, "login attempts before giving up")
	fs.IntVar(&cfg.ChallengeTimeoutSec, "challenge-timeout-sec", cfg.ChallengeTimeoutSec, "seconds to wait out a CDN challenge")
	fs.IntVar(&cfg.AuthBlockRestarts, "auth-block-restarts", cfg.AuthBlockRestarts, "AUTH_BLOCKED restarts before giving up")
	fs.IntVar(&cfg.AuthBlockCooldownSec, "auth-block-cooldown-sec", cfg.AuthBlockCooldownSec, "base cooldown between AUTH_BLOCKED restarts")
	fs.BoolVar(&cfg.ResetProfileOnAuthBlock, "reset-profile-on-auth-block", cfg.ResetProfileOnAuthBlock, "wipe the Chrome profile on AUTH_BLOCKED restart")
	fs.BoolVar(&cfg.AllowManualLogin, "allow-manual-login", cfg.AllowManualLogin, "pause for a human to clear login/challenge manually")

	fs.StringVar(&cfg.ArtifactDir, "artifact-dir", cfg.ArtifactDir, "directory for debug screenshots/HTML/JSON dumps")
	fs.StringVar(&cfg.SelectorsConfigPath, "selectors-config", cfg.SelectorsConfigPath, "optional selector-override JSON, deep-merged over defaults")

	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "unused by the fused single-tab crawl; kept for CLI compatibility")
	fs.IntVar(&cfg.MaxPages, "max-pages", cfg.MaxPages, "cap pagination depth per report (0 = unbounded)")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "cap the number of checks processed this run (0 = unbounded)")

	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "launch Chrome headless")

	fs.BoolVar(&cfg.SkipMetadata, "skip-metadata", cfg.SkipMetadata, "skip the order-details/menu-summary crawl entirely")
	fs.BoolVar(&cfg.RefreshMetadata, "refresh-metadata", cfg.RefreshMetadata, "re-crawl and overwrite already-complete records")
	fs.BoolVar(&cfg.MetadataOnly, "metadata-only", cfg.MetadataOnly, "stop after the fused crawl; skip any further detail pass")

	fs.StringVar(&cfg.MenuSummaryFile, "menu-summary-file", cfg.MenuSummaryFile, "path to write the Menu Item Summary snapshot")
	fs.StringVar(&cfg.ProgressFile, "progress-file", cfg.ProgressFile, "path to write the progress snapshot")
	fs.StringVar(&cfg.ErrorLogFile, "error-log-file", cfg.ErrorLogFile, "path to append per-record validation error events")

	fs.IntVar(&cfg.HumanMinDelayMS, "human-min-delay-ms", cfg.HumanMinDelayMS, "minimum jittered delay between simulated-human actions")
	fs.IntVar(&cfg.HumanMaxDelayMS, "human-max-delay-ms", cfg.HumanMaxDelayMS, "maximum jittered delay between simulated-human actions")
	fs.IntVar(&cfg.DetailStartMinIntervalMS, "detail-start-min-interval-ms", cfg.DetailStartMinIntervalMS, "minimum spacing between successive page advances")

	fs.StringVar(&cfg.SessionDBPath, "session-db-path", cfg.SessionDBPath, "optional SQLite index path alongside the state file (empty disables it)")

	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "optional address to serve GET /health and GET /progress on (empty disables it)")
	fs.StringVar(&cfg.StatusSharedSecret, "status-shared-secret", cfg.StatusSharedSecret, "bearer token required on status-server requests")

	fs.Parse(args)
	return cfg
}

func main() {
	logger := logging.SetDefault()
	cfg := parseFlags(os.Args[1:], config.Default())
	logger.Info("starting toastextract", "version", version.Get().Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown_signal_received")
		cancel()
	}()

	selectors, err := loadSelectors(cfg.SelectorsConfigPath)
	if err != nil {
		logger.Error("selectors_load_failed", "error", err)
		os.Exit(1)
	}

	envValues, err := config.LoadEnvValues(cfg.EnvFile)
	if err != nil {
		logger.Error("env_file_load_failed", "error", err)
		os.Exit(1)
	}
	creds, _ := config.ResolveCredentials(envValues, cfg.UserVar, cfg.PassVar)
	if creds == nil && !cfg.AllowManualLogin {
		logger.Warn("no_credentials_resolved", "allow_manual_login", cfg.AllowManualLogin)
	}

	var statusSrv *statusserver.Server
	var statusCache *statecache.Index
	if cfg.StatusAddr != "" {
		statusCache, err = statecache.Open(cfg.SessionDBPath, logger)
		if err != nil {
			logger.Warn("status_statecache_open_failed", "error", err)
			statusCache = nil
		}
		statusSrv = statusserver.New(statusserver.Config{
			Addr:           cfg.StatusAddr,
			SharedSecret:   cfg.StatusSharedSecret,
			RateLimitBurst: 10,
			ProgressFile:   cfg.ProgressFile,
			SessionDBPath:  cfg.SessionDBPath,
		}, statusCache)

		go func() {
			logger.Info("status_server_listening", "addr", cfg.StatusAddr)
			if err := statusSrv.ListenAndServe(); err != nil {
				logger.Error("status_server_error", "error", err)
			}
		}()
	}

	result := orchestrator.Run(ctx, orchestrator.Deps{
		Config:      cfg,
		Selectors:   selectors,
		Credentials: creds,
		Logger:      logger,
		Clock:       clock.New(),
	})

	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = statusSrv.Shutdown(shutdownCtx)
		shutdownCancel()
		if statusCache != nil {
			_ = statusCache.Close()
		}
	}

	if result.Fatal != nil {
		logger.Error("run_failed", "error", result.Fatal, "auth_blocked_restarts", result.AuthBlockedRestarts, "class", string(scrapeerr.ClassOf(result.Fatal)))
		os.Exit(1)
	}

	logger.Info("run_succeeded", "auth_blocked_restarts", result.AuthBlockedRestarts)
}

// loadSelectors returns the built-in defaults when no override path is
// configured, or the deep-merged result of LoadSelectors otherwise.
func loadSelectors(path string) (*config.Selectors, error) {
	if path == "" {
		return config.DefaultSelectors(), nil
	}
	selectors, err := config.LoadSelectors(path)
	if err != nil {
		return nil, fmt.Errorf("load selectors config %q: %w", path, err)
	}
	return selectors, nil
}
