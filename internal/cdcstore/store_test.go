package cdcstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdcbridge-test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Mark(ctx, "CALL001", "tok-1", time.Now()); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := s.Mark(ctx, "CALL001", "tok-2", time.Now()); err != nil {
		t.Fatalf("second Mark: %v", err)
	}

	ok, err := s.Contains(ctx, "CALL001")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Fatal("Contains(CALL001) = false, want true after Mark")
	}
}

func TestContainsFalseForUnknownID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.Contains(ctx, "NEVERSEEN")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("Contains(NEVERSEEN) = true, want false")
	}
}

func TestModeStatusInitAndAdvance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st, err := s.GetModeStatus(ctx, "NORMAL_VERINT")
	if err != nil {
		t.Fatalf("GetModeStatus: %v", err)
	}
	if !st.Enabled || st.TotalProcessed != 0 {
		t.Fatalf("initial ModeStatus = %+v, want enabled with 0 processed", st)
	}

	advanceTo := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	if err := s.AdvanceModeStatus(ctx, "NORMAL_VERINT", advanceTo, 12); err != nil {
		t.Fatalf("AdvanceModeStatus: %v", err)
	}

	st, err = s.GetModeStatus(ctx, "NORMAL_VERINT")
	if err != nil {
		t.Fatalf("GetModeStatus after advance: %v", err)
	}
	if st.TotalProcessed != 12 {
		t.Errorf("TotalProcessed = %d, want 12", st.TotalProcessed)
	}
	if !st.LastProcessedTimestamp.Equal(advanceTo) {
		t.Errorf("LastProcessedTimestamp = %v, want %v", st.LastProcessedTimestamp, advanceTo)
	}
}

func TestRecordSendFailureReachesPermanentThreshold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var permanent bool
	var err error
	for i := 0; i < 3; i++ {
		permanent, err = s.RecordSendFailure(ctx, "CALL999", "queue unreachable", 3)
		if err != nil {
			t.Fatalf("RecordSendFailure: %v", err)
		}
	}
	if !permanent {
		t.Fatal("RecordSendFailure should report permanent after reaching maxFailures")
	}

	failed, err := s.IsPermanentlyFailed(ctx, "CALL999")
	if err != nil {
		t.Fatalf("IsPermanentlyFailed: %v", err)
	}
	if !failed {
		t.Fatal("IsPermanentlyFailed(CALL999) = false, want true")
	}

	if err := s.ClearSendFailures(ctx, "CALL999"); err != nil {
		t.Fatalf("ClearSendFailures: %v", err)
	}
	failed, err = s.IsPermanentlyFailed(ctx, "CALL999")
	if err != nil {
		t.Fatalf("IsPermanentlyFailed after clear: %v", err)
	}
	if failed {
		t.Fatal("IsPermanentlyFailed(CALL999) = true after ClearSendFailures, want false")
	}
}

func TestLogError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.LogError(ctx, ErrorEntry{
		SourceID: "CALL002",
		Message:  "missing required channel",
		Kind:     "ASSEMBLY_REJECTED",
	})
	if err != nil {
		t.Fatalf("LogError: %v", err)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := s.Mark(ctx, "OLD1", "tok", old); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := s.Mark(ctx, "NEW1", "tok", time.Now()); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d rows, want 1", n)
	}

	ok, _ := s.Contains(ctx, "NEW1")
	if !ok {
		t.Error("Prune should not remove rows newer than the cutoff")
	}
}
