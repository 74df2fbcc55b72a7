// Package config loads the scraping engine's run configuration: the CLI
// flags that mirror the Python original's argparse surface (as plain
// tunables, not a generic CLI framework — see SPEC_FULL.md §10), the
// optional selector-override JSON document, and environment-provided
// credentials. It also exposes LoadStatusServerEnv and the small getEnv*
// family behind it, an env-driven loader for status-server settings
// following the teacher's config.Load() idiom; cmd/toastextract itself
// configures the status server from flags, not from this loader.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	orderDetailsURL         = "https://www.toasttab.com/restaurants/admin/reports/home#sales-order-details"
	headlessChromeUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.7559.133 Safari/537.36"
)

// OrderDetailsURL returns the canonical Order Details report entry point.
func OrderDetailsURL() string { return orderDetailsURL }

// Config holds every tunable of one scraping run, mirroring the Python
// original's argparse namespace field-for-field (toast_extract.py
// parse_args), minus the excluded CLI-framework concerns.
type Config struct {
	StartDate string
	EndDate   string

	StateFile      string
	UserDataDir    string
	BrowserChannel string
	EnvFile        string
	UserVar        string
	PassVar        string

	AuthTimeoutSec          int
	AuthMaxAttempts         int
	ChallengeTimeoutSec     int
	AuthBlockRestarts       int
	AuthBlockCooldownSec    int
	ResetProfileOnAuthBlock bool
	AllowManualLogin        bool

	ArtifactDir         string
	SelectorsConfigPath string

	Workers  int
	MaxPages int
	Limit    int

	Headless          bool
	HeadlessUserAgent string

	SkipMetadata    bool
	RefreshMetadata bool
	MetadataOnly    bool

	MenuSummaryFile string
	ProgressFile    string
	ErrorLogFile    string

	HumanMinDelayMS int
	HumanMaxDelayMS int

	DetailStartMinIntervalMS int

	// SessionDBPath, if set, enables the SQLite-backed progress index
	// (internal/statecache) alongside the authoritative JSON state file.
	SessionDBPath string

	// StatusAddr, if non-empty, starts the optional local status/progress
	// HTTP surface (internal/statusserver) on this address.
	StatusAddr string
	// StatusSharedSecret, if set, is required as a Bearer token on every
	// status-server request.
	StatusSharedSecret string
}

// Default returns a Config populated with the same defaults the Python
// original's argparse declares.
func Default() *Config {
	return &Config{
		StateFile:                "output/toast_checks_state.json",
		UserDataDir:              ".toast_browser_profile",
		BrowserChannel:           "chrome",
		EnvFile:                  ".env",
		UserVar:                  "TOAST_USERNAME",
		PassVar:                  "TOAST_PASSWORD",
		AuthTimeoutSec:           45,
		AuthMaxAttempts:          3,
		ChallengeTimeoutSec:      120,
		AuthBlockRestarts:        2,
		AuthBlockCooldownSec:     90,
		ResetProfileOnAuthBlock:  false,
		AllowManualLogin:         false,
		ArtifactDir:              "output/toast_artifacts",
		SelectorsConfigPath:      "",
		Workers:                  6,
		MaxPages:                 0,
		Limit:                    0,
		Headless:                 false,
		HeadlessUserAgent:        headlessChromeUserAgent,
		SkipMetadata:             false,
		RefreshMetadata:          false,
		MetadataOnly:             false,
		MenuSummaryFile:          "output/toast_menu_item_summary.json",
		ProgressFile:             "output/toast_progress.json",
		ErrorLogFile:             "output/toast_errors.jsonl",
		HumanMinDelayMS:          250,
		HumanMaxDelayMS:          900,
		DetailStartMinIntervalMS: 700,
	}
}

// Credentials is a resolved username/password pair.
type Credentials struct {
	Username string
	Password string
}

// LoadEnvValues reads a dotenv-style file (KEY=VALUE per line, '#'
// comments, optional quoting), mirroring load_env_values. A missing file is
// not an error — it simply yields no values.
func LoadEnvValues(path string) (map[string]string, error) {
	values := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// ResolveCredentials picks the first non-empty username/password pair from
// envValues, preferring userVar/passVar, then a small set of conventional
// fallback names, mirroring resolve_credentials.
func ResolveCredentials(envValues map[string]string, userVar, passVar string) (*Credentials, bool) {
	userKeys := []string{userVar, "TOAST_USERNAME", "TOAST_USER", "USER", "EMAIL"}
	passKeys := []string{passVar, "TOAST_PASSWORD", "TOAST_PASS", "PASS", "PASSWORD"}

	username := firstNonEmpty(envValues, userKeys)
	password := firstNonEmpty(envValues, passKeys)
	if username != "" && password != "" {
		return &Credentials{Username: username, Password: password}, true
	}
	return nil, false
}

func firstNonEmpty(values map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(values[k]); v != "" {
			return v
		}
	}
	return ""
}

// getEnv, getEnvInt, getEnvBool, getEnvDuration back LoadStatusServerEnv's
// small set of env-driven settings (STATUS_ADDR, LOG_LEVEL, etc.) — kept from
// the teacher almost verbatim since they are generic enough to reuse as-is.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// StatusServerEnv holds the status server's env-driven settings, loaded
// independently of the run Config above (it concerns the operator-facing
// HTTP surface, not the scrape run).
type StatusServerEnv struct {
	Addr           string
	SharedSecret   string
	LogLevel       string
	LogFormat      string
	PollInterval   time.Duration
	RateLimitBurst int
}

// LoadStatusServerEnv reads STATUS_ADDR/STATUS_SHARED_SECRET/LOG_LEVEL/
// LOG_FORMAT/STATUS_POLL_INTERVAL/STATUS_RATE_LIMIT_BURST, matching the
// teacher's Load()-from-env pattern.
func LoadStatusServerEnv() StatusServerEnv {
	return StatusServerEnv{
		Addr:           getEnv("STATUS_ADDR", ""),
		SharedSecret:   getEnv("STATUS_SHARED_SECRET", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", ""),
		PollInterval:   getEnvDuration("STATUS_POLL_INTERVAL", 5*time.Second),
		RateLimitBurst: getEnvInt("STATUS_RATE_LIMIT_BURST", 10),
	}
}
