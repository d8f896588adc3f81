package draft

import (
	"context"
	"testing"
	"time"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }

func TestWriteFieldsDoesNotClobberSiblings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.WriteFields(ctx, "branch-a", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("4")}, "alice"); err != nil {
		t.Fatalf("write p1: %v", err)
	}
	if err := m.WriteFields(ctx, "branch-a", "2026-08-30", "p2", FieldUpdate{ToOrder: f64Ptr(2)}, "bob"); err != nil {
		t.Fatalf("write p2: %v", err)
	}

	snap, err := m.Snapshot(ctx, "branch-a", "2026-08-30")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap["p1"].CurrentStock != "4" {
		t.Fatalf("p1 current stock lost: %+v", snap["p1"])
	}
	if snap["p2"].ToOrder != 2 {
		t.Fatalf("p2 to-order lost: %+v", snap["p2"])
	}
	if snap["p2"].UpdatedBy != "bob" {
		t.Fatalf("expected p2 stamped by bob, got %q", snap["p2"].UpdatedBy)
	}
}

func TestWriteFieldsPartialUpdateKeepsOtherField(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.WriteFields(ctx, "b", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("7"), ToOrder: f64Ptr(3)}, "alice"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.WriteFields(ctx, "b", "2026-08-30", "p1", FieldUpdate{ToOrder: f64Ptr(5)}, "bob"); err != nil {
		t.Fatalf("partial write: %v", err)
	}

	snap, _ := m.Snapshot(ctx, "b", "2026-08-30")
	entry := snap["p1"]
	if entry.CurrentStock != "7" {
		t.Fatalf("current stock clobbered by partial update: %+v", entry)
	}
	if entry.ToOrder != 5 {
		t.Fatalf("to-order not updated: %+v", entry)
	}
}

func TestLastWriteWinsPerKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.WriteFields(ctx, "b", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("1")}, "alice")
	_ = m.WriteFields(ctx, "b", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("9")}, "bob")

	snap, _ := m.Snapshot(ctx, "b", "2026-08-30")
	if snap["p1"].CurrentStock != "9" || snap["p1"].UpdatedBy != "bob" {
		t.Fatalf("expected bob's write to win, got %+v", snap["p1"])
	}
}

func TestSubscribeDeliversInitialAndUpdates(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = m.WriteFields(ctx, "b", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("2")}, "alice")

	ch, err := m.Subscribe(ctx, "b", "2026-08-30")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	initial := mustRecv(t, ch)
	if initial["p1"].CurrentStock != "2" {
		t.Fatalf("initial snapshot missing existing entry: %+v", initial)
	}

	_ = m.WriteFields(ctx, "b", "2026-08-30", "p2", FieldUpdate{ToOrder: f64Ptr(4)}, "bob")

	updated := mustRecv(t, ch)
	if updated["p2"].ToOrder != 4 {
		t.Fatalf("update not delivered: %+v", updated)
	}
	if updated["p1"].CurrentStock != "2" {
		t.Fatalf("update snapshot dropped sibling: %+v", updated)
	}
}

func TestClearEmptiesDraftAndNotifies(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = m.WriteFields(ctx, "b", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("2")}, "alice")

	ch, err := m.Subscribe(ctx, "b", "2026-08-30")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mustRecv(t, ch)

	if err := m.Clear(ctx, "b", "2026-08-30"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	cleared := mustRecv(t, ch)
	if len(cleared) != 0 {
		t.Fatalf("expected empty snapshot after clear, got %+v", cleared)
	}

	snap, _ := m.Snapshot(ctx, "b", "2026-08-30")
	if len(snap) != 0 {
		t.Fatalf("expected snapshot read to be empty after clear, got %+v", snap)
	}
}

func TestDraftsAreIsolatedPerBranchDay(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.WriteFields(ctx, "b1", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("1")}, "alice")
	_ = m.WriteFields(ctx, "b2", "2026-08-30", "p1", FieldUpdate{CurrentStock: strPtr("2")}, "alice")
	_ = m.WriteFields(ctx, "b1", "2026-08-31", "p1", FieldUpdate{CurrentStock: strPtr("3")}, "alice")

	for _, tc := range []struct {
		branch, day, want string
	}{
		{"b1", "2026-08-30", "1"},
		{"b2", "2026-08-30", "2"},
		{"b1", "2026-08-31", "3"},
	} {
		snap, _ := m.Snapshot(ctx, tc.branch, tc.day)
		if snap["p1"].CurrentStock != tc.want {
			t.Fatalf("draft %s/%s: got %q, want %q", tc.branch, tc.day, snap["p1"].CurrentStock, tc.want)
		}
	}
}

func TestDayKey(t *testing.T) {
	at := time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC)
	if got := DayKey(at); got != "2026-08-30" {
		t.Fatalf("DayKey = %q", got)
	}
}

func mustRecv(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}
