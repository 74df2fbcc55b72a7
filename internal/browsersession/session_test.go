package browsersession

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/toastextract/internal/scrapeerr"
)

func TestCheckProfileLock_NoLockFilePasses(t *testing.T) {
	dir := t.TempDir()
	if err := checkProfileLock(dir); err != nil {
		t.Errorf("expected no error for unlocked profile, got %v", err)
	}
}

func TestCheckProfileLock_DetectsSingletonLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "SingletonLock")
	if err := os.WriteFile(lockPath, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	err := checkProfileLock(dir)
	if err == nil {
		t.Fatal("expected profile-locked error")
	}
	if !errors.Is(err, scrapeerr.ErrProfileLocked) {
		t.Errorf("expected ErrProfileLocked class, got %v", err)
	}
}

func TestResetProfile_RemovesAndRecreatesDir(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile")
	if err := os.MkdirAll(profile, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(profile, "Default")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ResetProfile(profile, slog.Default()); err != nil {
		t.Fatalf("ResetProfile() error: %v", err)
	}

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("expected profile contents to be wiped")
	}
	if info, err := os.Stat(profile); err != nil || !info.IsDir() {
		t.Error("expected profile directory to be recreated")
	}
}

func TestResolveChannelBinary_NonChromeChannelReturnsEmpty(t *testing.T) {
	if got := resolveChannelBinary("chromium"); got != "" {
		t.Errorf("expected empty hint for non-chrome channel, got %q", got)
	}
}
