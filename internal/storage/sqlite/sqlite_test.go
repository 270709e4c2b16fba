package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelbrown/playground/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{
		ID:         "abc12345-0000-0000-0000-000000000000",
		Generation: 4,
		Backend:    "jsvm",
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.Status != storage.StatusRunning {
		t.Errorf("status = %q, want %q", got.Status, storage.StatusRunning)
	}
	if got.Generation != 4 {
		t.Errorf("generation = %d, want 4", got.Generation)
	}
	if got.Backend != "jsvm" {
		t.Errorf("backend = %q, want jsvm", got.Backend)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
	if !got.FinishedAt.IsZero() {
		t.Error("finished_at should be zero for a running run")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{ID: "abc12345-0000-0000-0000-000000000000"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "abc12345")
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if got.ID != run.ID {
		t.Errorf("got ID %q, want %q", got.ID, run.ID)
	}
}

func TestGetRunAmbiguousPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{
		"abc00000-0000-0000-0000-000000000000",
		"abc11111-0000-0000-0000-000000000000",
	} {
		if err := s.CreateRun(ctx, &storage.Run{ID: id}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	_, err := s.GetRun(ctx, "abc")
	if err == nil {
		t.Fatal("expected error for ambiguous prefix")
	}
	if errors.Is(err, storage.ErrNotFound) {
		t.Error("ambiguous prefix should not report not found")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"aaa", "bbb", "ccc"} {
		run := &storage.Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, storage.RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].ID != "ccc" || runs[2].ID != "aaa" {
		t.Errorf("order = %s,%s,%s; want newest first", runs[0].ID, runs[1].ID, runs[2].ID)
	}
}

func TestListRunsFilterByStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateRun(ctx, &storage.Run{ID: "r1"})
	s.CreateRun(ctx, &storage.Run{ID: "r2", Status: storage.StatusFailed})
	s.CreateRun(ctx, &storage.Run{ID: "r3"})

	runs, err := s.ListRuns(ctx, storage.RunListOptions{Status: storage.StatusRunning})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d running runs, want 2", len(runs))
	}
}

func TestListRunsLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.CreateRun(ctx, &storage.Run{ID: string(rune('a' + i))})
	}

	runs, err := s.ListRuns(ctx, storage.RunListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}

func TestFinishRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{ID: "fin1"}
	s.CreateRun(ctx, run)

	run.Status = storage.StatusExited
	run.ExitCode = 2
	run.Output = "hi\n"
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, "fin1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != storage.StatusExited || got.ExitCode != 2 {
		t.Errorf("got status %q exit %d, want exited 2", got.Status, got.ExitCode)
	}
	if got.Output != "hi\n" {
		t.Errorf("output = %q, want %q", got.Output, "hi\n")
	}
	if got.FinishedAt.IsZero() {
		t.Error("finished_at should be set")
	}
}

func TestFinishRunUnknown(t *testing.T) {
	s := testStore(t)

	err := s.FinishRun(context.Background(), &storage.Run{ID: "ghost", Status: storage.StatusExited})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateRun(ctx, &storage.Run{ID: "del1"})

	if err := s.DeleteRun(ctx, "del1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	if _, err := s.GetRun(ctx, "del1"); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestCorruptTimestampIsAnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at) VALUES (?, ?)`, "bad-time", "not-a-time")
	if err != nil {
		t.Fatalf("inserting row: %v", err)
	}

	if _, err := s.GetRun(ctx, "bad-time"); err == nil {
		t.Error("GetRun returned no error for an unparseable created_at")
	}
	if _, err := s.ListRuns(ctx, storage.RunListOptions{}); err == nil {
		t.Error("ListRuns returned no error for an unparseable created_at")
	}
}

func TestCorruptFinishedAtIsAnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &storage.Run{ID: "bad-finish"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = 'yesterday' WHERE id = ?`, "bad-finish"); err != nil {
		t.Fatalf("updating row: %v", err)
	}

	if _, err := s.GetRun(ctx, "bad-finish"); err == nil {
		t.Error("GetRun returned no error for an unparseable finished_at")
	}
}
