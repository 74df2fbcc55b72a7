// Package state owns the authoritative on-disk record of every check seen
// by a run: the JSON state file, the jsonl error log, the menu-item
// summary file, and the small progress snapshot polled by operators. Every
// write is atomic (write to a ".tmp" sibling, then rename) so a crash mid-
// write never corrupts the authoritative file, mirroring the Python
// original's save_state/save_menu_summary/append_jsonl/save_progress.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/toastextract/internal/config"
	"github.com/jmylchreest/toastextract/internal/model"
)

// droppedMetadataKeys are metadata keys dropped on load for backward
// compatibility with state files written by older report-column layouts.
var droppedMetadataKeys = map[string]bool{
	"receipt":     true,
	"detail_url":  true,
	"columns":     true,
	"raw_cells":   true,
}

// Store holds the in-memory, mutex-guarded record map backing one run's
// state file, matching the single shared `state` dict the Python original
// guards with its record lock.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]*model.CheckRecord
}

// Load reads the state file at path, normalizing each record the way
// load_state does: defaulting parsed_url, flattening legacy
// metadata.columns, and dropping noisy metadata keys. A missing file
// yields an empty store, not an error.
func Load(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]*model.CheckRecord)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	var rows []struct {
		model.CheckRecord
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		row := &rows[i].CheckRecord
		if row.PaymentID == "" {
			continue
		}
		// Lift a legacy nested "columns" object first so top-level keys win.
		flat := map[string]string{}
		cols, _ := rows[i].Metadata["columns"].(map[string]any)
		for _, m := range []map[string]any{cols, rows[i].Metadata} {
			for k, v := range m {
				if s, ok := v.(string); ok {
					flat[k] = s
				}
			}
		}
		if rows[i].Metadata != nil {
			row.Metadata = normalizeMetadataFields(flat)
		}
		if row.ParsedURL == "" {
			row.ParsedURL = config.OrderDetailsURL()
		}
		s.records[row.PaymentID] = row
	}
	return s, nil
}

// normalizeMetadataFields strips keys that carried raw DOM scaffolding
// rather than check facts, mirroring normalize_metadata_fields. Load has
// already lifted any legacy metadata.columns nesting into the top level
// before calling it.
func normalizeMetadataFields(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	cleaned := make(map[string]string, len(metadata))
	for k, v := range metadata {
		key := k
		if key == "" {
			continue
		}
		if droppedMetadataKeys[lower(key)] {
			continue
		}
		cleaned[key] = v
	}
	return cleaned
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Get returns a copy of the record for paymentID, or nil if unseen.
func (s *Store) Get(paymentID string) *model.CheckRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// Upsert inserts or replaces the record for rec.PaymentID.
func (s *Store) Upsert(rec *model.CheckRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.PaymentID] = rec
}

// Has reports whether paymentID is already tracked.
func (s *Store) Has(paymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[paymentID]
	return ok
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns every tracked record, sorted by payment ID, matching
// the deterministic ordering save_state writes to disk.
func (s *Store) Snapshot() []*model.CheckRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.CheckRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out
}

// Save atomically writes the current record set to the state file at
// s.path: temp file first, then rename, matching save_state.
func (s *Store) Save() error {
	rows := s.Snapshot()
	return atomicWriteJSON(s.path, rows)
}

// atomicWriteJSON marshals v as indented JSON and writes it to path via a
// ".tmp" sibling followed by an atomic rename, mirroring the
// write-tmp-then-replace idiom shared by save_state/save_menu_summary/
// save_progress.
func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveMenuSummary atomically writes the accumulated menu-item summary
// rows, mirroring save_menu_summary.
func SaveMenuSummary(path string, rows []model.MenuSummaryRow) error {
	return atomicWriteJSON(path, rows)
}

// AppendError appends one newline-delimited JSON error event to the
// jsonl error log, mirroring append_jsonl. The log is append-only and
// never rewritten, so no atomic-rename dance is needed here.
func AppendError(path string, event model.ErrorEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// SaveProgress computes and atomically writes the run's progress
// snapshot, mirroring save_progress.
func (s *Store) SaveProgress(path, runID string, now time.Time) error {
	rows := s.Snapshot()
	total := len(rows)
	complete := 0
	errored := 0
	for _, row := range rows {
		if row.Complete {
			complete++
		}
		if row.LastError != nil && *row.LastError != "" {
			errored++
		}
	}
	snapshot := model.ProgressSnapshot{
		RunID:      runID,
		UpdatedAt:  now.UTC(),
		Total:      total,
		Complete:   complete,
		Incomplete: total - complete,
		Errored:    errored,
	}
	return atomicWriteJSON(path, snapshot)
}
