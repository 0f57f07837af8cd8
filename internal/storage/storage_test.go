package storage

import (
	"errors"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/retroeval/internal/models"
)

func newTestStorage(t *testing.T, maxRuns int) *Storage {
	t.Helper()
	s, err := New(maxRuns, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRun(startedAt time.Time) *models.Run {
	return &models.Run{
		ID:         uuid.NewString(),
		Mode:       "registry",
		Band:       "med",
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(2 * time.Second),
		Scenarios:  3,
		Failures:   1,
	}
}

func testTable(t *testing.T) *models.Table {
	t.Helper()
	table := models.NewTable([]string{"MAE", "ME"}, []string{"Increasing"})
	rows := []models.Row{
		{Label: "Scenario: 2021/05/21 ICU", Values: []float64{0.4, -0.2}, Tags: []string{"True"}},
		{Label: "Scenario: 2021/06/04", Values: []float64{1.1, math.NaN()}, Tags: []string{"False"}},
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return table
}

func TestStorage_SaveAndGetRun(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun(time.Now())

	if err := s.SaveRun(run, testTable(t)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != run.ID || got.Mode != run.Mode || got.Band != run.Band {
		t.Errorf("got %+v, want %+v", got, run)
	}
	if got.Scenarios != 3 || got.Failures != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.Duration() != 2*time.Second {
		t.Errorf("got duration %v, want 2s", got.Duration())
	}
}

func TestStorage_GetRun_NotFound(t *testing.T) {
	s := newTestStorage(t, 10)
	_, err := s.GetRun("nonexistent")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStorage_SaveRun_Invalid(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun(time.Now())
	run.Failures = 5
	if err := s.SaveRun(run, testTable(t)); err == nil {
		t.Error("expected error for invalid run")
	}
}

func TestStorage_SaveRun_DuplicateID(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun(time.Now())
	if err := s.SaveRun(run, testTable(t)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(run, testTable(t)); err == nil {
		t.Error("expected error for duplicate run id")
	}
}

func TestStorage_LoadTable(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun(time.Now())
	want := testTable(t)
	if err := s.SaveRun(run, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.LoadTable(run.ID)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(got.Rows))
	}
	if got.Rows[0].Label != want.Rows[0].Label || got.Rows[1].Label != want.Rows[1].Label {
		t.Errorf("row order not preserved: %v", got.Labels())
	}
	if got.Rows[0].Values[0] != 0.4 || got.Rows[0].Tags[0] != "True" {
		t.Errorf("unexpected first row: %+v", got.Rows[0])
	}
	if !math.IsNaN(got.Rows[1].Values[1]) {
		t.Errorf("expected NaN to round-trip, got %v", got.Rows[1].Values[1])
	}
	if got.ColumnIndex("ME") != 1 || got.TagIndex("Increasing") != 0 {
		t.Errorf("unexpected schema: %v / %v", got.Columns, got.TagColumns)
	}

	if _, err := s.LoadTable("nonexistent"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStorage_ListRuns(t *testing.T) {
	s := newTestStorage(t, 10)
	base := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		run := testRun(base.Add(time.Duration(i) * time.Minute))
		ids = append(ids, run.ID)
		if err := s.SaveRun(run, testTable(t)); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestStorage_RotateRuns(t *testing.T) {
	s := newTestStorage(t, 2)
	base := time.Now()
	var ids []string
	for i := 0; i < 4; i++ {
		run := testRun(base.Add(time.Duration(i) * time.Minute))
		ids = append(ids, run.ID)
		if err := s.SaveRun(run, testTable(t)); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs after rotation, want 2", len(runs))
	}
	if _, err := s.GetRun(ids[0]); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected oldest run to be rotated out, got %v", err)
	}

	// Results cascade with their run.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM results WHERE run_id = ?`, ids[0]).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d orphaned results, want 0", n)
	}

	if err := s.RotateRuns(); err != nil {
		t.Errorf("RotateRuns: %v", err)
	}
}

func TestStorage_FileBacked(t *testing.T) {
	path := fmt.Sprintf("%s/nested/runs.db", t.TempDir())
	s, err := New(5, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run := testRun(time.Now())
	if err := s.SaveRun(run, testTable(t)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	_ = s.Close()

	reopened, err := New(5, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetRun(run.ID); err != nil {
		t.Errorf("GetRun after reopen: %v", err)
	}
}

func TestStorage_NotADatabase(t *testing.T) {
	path := fmt.Sprintf("%s/runs.db", t.TempDir())
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = 'x'
	}
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(5, path); err == nil {
		t.Fatal("Expected error opening a non-database file")
	}
	// The failed open releases its handle, so the file can be replaced and reopened.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	s, err := New(5, path)
	if err != nil {
		t.Fatalf("New after replace: %v", err)
	}
	_ = s.Close()
}
