package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/toastextract/internal/model"
)

func TestLoad_MissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d records", s.Len())
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := &Store{path: path, records: map[string]*model.CheckRecord{}}
	s.Upsert(&model.CheckRecord{PaymentID: "p002", Complete: true})
	s.Upsert(&model.CheckRecord{PaymentID: "p001", Complete: false})

	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// The tmp file must not survive a successful save.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected .tmp sibling to be removed by rename")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", loaded.Len())
	}
	rec := loaded.Get("p001")
	if rec == nil {
		t.Fatal("expected p001 to round-trip")
	}
	if rec.ParsedURL == "" {
		t.Error("expected ParsedURL to default on load")
	}
}

func TestSave_SortsRecordsByPaymentID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := &Store{path: path, records: map[string]*model.CheckRecord{}}
	s.Upsert(&model.CheckRecord{PaymentID: "p003"})
	s.Upsert(&model.CheckRecord{PaymentID: "p001"})
	s.Upsert(&model.CheckRecord{PaymentID: "p002"})

	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rows []model.CheckRecord
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].PaymentID != "p001" || rows[1].PaymentID != "p002" || rows[2].PaymentID != "p003" {
		t.Errorf("expected sorted payment IDs, got %+v", rows)
	}
}

func TestLoad_FlattensLegacyMetadataAndDropsNoisyKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	content := `[{"payment_id": "p001", "metadata": {"server": "Alice", "receipt": "x", "raw_cells": "y", "columns": {"table": "12", "server": "Bob"}}}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	rec := s.Get("p001")
	if rec == nil {
		t.Fatal("expected p001 to load")
	}
	if _, ok := rec.Metadata["receipt"]; ok {
		t.Error("receipt metadata key should be dropped")
	}
	if _, ok := rec.Metadata["raw_cells"]; ok {
		t.Error("raw_cells metadata key should be dropped")
	}
	if rec.Metadata["server"] != "Alice" {
		t.Errorf("server metadata should survive, got %q", rec.Metadata["server"])
	}
	if rec.Metadata["table"] != "12" {
		t.Errorf("legacy columns.table should be flattened to the top level, got %q", rec.Metadata["table"])
	}
	if _, ok := rec.Metadata["columns"]; ok {
		t.Error("columns metadata key should be dropped after flattening")
	}
}

func TestLoad_SkipsRecordsWithoutPaymentID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	content := `[{"payment_id": ""}, {"payment_id": "p001"}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 record after skipping blank payment_id, got %d", s.Len())
	}
}

func TestAppendError_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "errors.jsonl")

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if err := AppendError(path, model.ErrorEvent{TS: now, RunID: "r1", PaymentID: "p001", Error: "boom", Attempts: 1}); err != nil {
		t.Fatalf("AppendError() error: %v", err)
	}
	if err := AppendError(path, model.ErrorEvent{TS: now, RunID: "r1", PaymentID: "p002", Error: "boom2", Attempts: 2}); err != nil {
		t.Fatalf("AppendError() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(string(raw))
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d: %q", len(lines), raw)
	}
	var ev model.ErrorEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if ev.PaymentID != "p001" {
		t.Errorf("PaymentID = %q, want p001", ev.PaymentID)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	return lines
}

func TestSaveProgress_ComputesTotals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	errMsg := "boom"
	s := &Store{path: filepath.Join(dir, "state.json"), records: map[string]*model.CheckRecord{
		"p001": {PaymentID: "p001", Complete: true},
		"p002": {PaymentID: "p002", Complete: false, LastError: &errMsg},
		"p003": {PaymentID: "p003", Complete: false},
	}}

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if err := s.SaveProgress(path, "run-1", now); err != nil {
		t.Fatalf("SaveProgress() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Total != 3 || snap.Complete != 1 || snap.Incomplete != 2 || snap.Errored != 1 {
		t.Errorf("got %+v", snap)
	}
	if snap.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", snap.RunID)
	}
}

func TestSaveMenuSummary_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "menu.json")

	rows := []model.MenuSummaryRow{
		{"item": "Burger", "qty": "3"},
		{"item": "Fries", "qty": "5"},
	}
	if err := SaveMenuSummary(path, rows); err != nil {
		t.Fatalf("SaveMenuSummary() error: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected .tmp sibling to be removed by rename")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var loaded []model.MenuSummaryRow
	if err := json.Unmarshal(raw, &loaded); err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0]["item"] != "Burger" {
		t.Errorf("got %+v", loaded)
	}
}
