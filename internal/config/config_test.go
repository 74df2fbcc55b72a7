package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.StateFile != "output/toast_checks_state.json" {
		t.Errorf("StateFile = %q, want output/toast_checks_state.json", cfg.StateFile)
	}
	if cfg.Workers != 6 {
		t.Errorf("Workers = %d, want 6", cfg.Workers)
	}
	if cfg.AuthTimeoutSec != 45 {
		t.Errorf("AuthTimeoutSec = %d, want 45", cfg.AuthTimeoutSec)
	}
	if cfg.ChallengeTimeoutSec != 120 {
		t.Errorf("ChallengeTimeoutSec = %d, want 120", cfg.ChallengeTimeoutSec)
	}
	if cfg.HeadlessUserAgent == "" {
		t.Error("HeadlessUserAgent should not be empty")
	}
	if cfg.MaxPages != 0 || cfg.Limit != 0 {
		t.Error("MaxPages and Limit should default to unlimited (0)")
	}
}

func TestOrderDetailsURL(t *testing.T) {
	if OrderDetailsURL() == "" {
		t.Error("OrderDetailsURL() should not be empty")
	}
}

func TestLoadEnvValues(t *testing.T) {
	t.Run("missing file returns empty map, no error", func(t *testing.T) {
		values, err := LoadEnvValues(filepath.Join(t.TempDir(), "nope.env"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(values) != 0 {
			t.Errorf("expected empty map, got %v", values)
		}
	})

	t.Run("parses KEY=VALUE lines, skips comments and blanks", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".env")
		content := "# a comment\n\nTOAST_USERNAME=alice@example.com\nTOAST_PASSWORD=\"s3cret\"\nNO_EQUALS_HERE\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		values, err := LoadEnvValues(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if values["TOAST_USERNAME"] != "alice@example.com" {
			t.Errorf("TOAST_USERNAME = %q", values["TOAST_USERNAME"])
		}
		if values["TOAST_PASSWORD"] != "s3cret" {
			t.Errorf("TOAST_PASSWORD = %q, want unquoted s3cret", values["TOAST_PASSWORD"])
		}
		if _, ok := values["NO_EQUALS_HERE"]; ok {
			t.Error("line without '=' should be skipped")
		}
	})
}

func TestResolveCredentials(t *testing.T) {
	t.Run("prefers configured var names", func(t *testing.T) {
		values := map[string]string{
			"MY_USER": "bob",
			"MY_PASS": "hunter2",
		}
		creds, ok := ResolveCredentials(values, "MY_USER", "MY_PASS")
		if !ok {
			t.Fatal("expected credentials to resolve")
		}
		if creds.Username != "bob" || creds.Password != "hunter2" {
			t.Errorf("got %+v", creds)
		}
	})

	t.Run("falls back to conventional names", func(t *testing.T) {
		values := map[string]string{
			"TOAST_USERNAME": "alice",
			"TOAST_PASSWORD": "pw",
		}
		creds, ok := ResolveCredentials(values, "UNUSED_USER", "UNUSED_PASS")
		if !ok {
			t.Fatal("expected credentials to resolve via fallback keys")
		}
		if creds.Username != "alice" || creds.Password != "pw" {
			t.Errorf("got %+v", creds)
		}
	})

	t.Run("missing password fails", func(t *testing.T) {
		values := map[string]string{"TOAST_USERNAME": "alice"}
		if _, ok := ResolveCredentials(values, "U", "P"); ok {
			t.Error("expected resolution to fail without a password")
		}
	})
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_KEY", "set-value")
	if got := getEnv("CONFIG_TEST_KEY", "default"); got != "set-value" {
		t.Errorf("getEnv() = %q, want set-value", got)
	}
	if got := getEnv("CONFIG_TEST_MISSING", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want default", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "42")
	if got := getEnvInt("CONFIG_TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("CONFIG_TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("getEnvInt() = %d, want 7", got)
	}
	t.Setenv("CONFIG_TEST_INT_BAD", "not-a-number")
	if got := getEnvInt("CONFIG_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %d, want fallback 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := []struct {
		val  string
		want bool
	}{
		{"true", true}, {"1", true}, {"yes", true},
		{"false", false}, {"0", false}, {"", false},
	}
	for _, c := range cases {
		if c.val == "" {
			if got := getEnvBool("CONFIG_TEST_BOOL_UNSET", false); got != false {
				t.Errorf("getEnvBool() unset = %v, want false", got)
			}
			continue
		}
		t.Setenv("CONFIG_TEST_BOOL", c.val)
		if got := getEnvBool("CONFIG_TEST_BOOL", false); got != c.want {
			t.Errorf("getEnvBool(%q) = %v, want %v", c.val, got, c.want)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CONFIG_TEST_DUR", "2s")
	if got := getEnvDuration("CONFIG_TEST_DUR", time.Second); got != 2*time.Second {
		t.Errorf("getEnvDuration() = %v, want 2s", got)
	}
	if got := getEnvDuration("CONFIG_TEST_DUR_MISSING", 5*time.Second); got != 5*time.Second {
		t.Errorf("getEnvDuration() = %v, want 5s fallback", got)
	}
}

func TestLoadStatusServerEnv(t *testing.T) {
	env := LoadStatusServerEnv()
	if env.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", env.LogLevel)
	}
	if env.PollInterval != 5*time.Second {
		t.Errorf("default PollInterval = %v, want 5s", env.PollInterval)
	}
}

func TestDefaultSelectors(t *testing.T) {
	sel := DefaultSelectors()
	if len(sel.Payments.TableRows) == 0 {
		t.Error("Payments.TableRows should not be empty")
	}
	if len(sel.OrderDetails.OrderBlocks) == 0 {
		t.Error("OrderDetails.OrderBlocks should not be empty")
	}
	if len(sel.Auth.NotNowButtons) == 0 {
		t.Error("Auth.NotNowButtons should not be empty")
	}
}

func TestLoadSelectors(t *testing.T) {
	t.Run("no override path returns defaults", func(t *testing.T) {
		sel, err := LoadSelectors("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sel.Payments.TableRows) == 0 {
			t.Error("expected default payments selectors")
		}
	})

	t.Run("missing override file returns defaults", func(t *testing.T) {
		sel, err := LoadSelectors(filepath.Join(t.TempDir(), "missing.json"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sel.Auth.SubmitButtons) == 0 {
			t.Error("expected default auth selectors")
		}
	})

	t.Run("override deep-merges over defaults, replacing only named leaves", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "selectors.json")
		override := `{"payments": {"next_button": ["#custom-next"]}}`
		if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
			t.Fatal(err)
		}

		sel, err := LoadSelectors(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sel.Payments.NextButton) != 1 || sel.Payments.NextButton[0] != "#custom-next" {
			t.Errorf("NextButton = %v, want [#custom-next]", sel.Payments.NextButton)
		}
		// Sibling leaf under the same family must survive untouched.
		if len(sel.Payments.TableRows) == 0 || sel.Payments.TableRows[0] != "#sales-payments table tbody tr" {
			t.Errorf("TableRows should retain default, got %v", sel.Payments.TableRows)
		}
		if len(sel.Auth.SubmitButtons) == 0 {
			t.Error("unrelated Auth family should retain defaults")
		}
	})
}
