// Package draft holds the in-progress, not-yet-submitted count edits for one
// branch-day, mirrored to every device working the same session.
//
// Consistency model: last-write-wins per (branch, day, product) key. Edits
// are field-independent and different staff typically edit different
// products, so same-key conflicts are rare; when two devices do write the
// same product concurrently, one value is silently dropped. There is no
// version stamping or merge.
package draft

import (
	"context"
	"time"
)

// Entry is one product's draft state. CurrentStock stays a raw string: it is
// whatever the operator has typed so far, possibly incomplete.
type Entry struct {
	CurrentStock string    `json:"current_stock"`
	ToOrder      float64   `json:"to_order"`
	UpdatedAt    time.Time `json:"updated_at"`
	UpdatedBy    string    `json:"updated_by"`
}

// Snapshot maps product id to its draft entry.
type Snapshot map[string]Entry

// FieldUpdate is a partial upsert of one product's entry. Nil fields keep
// their current value.
type FieldUpdate struct {
	CurrentStock *string  `json:"current_stock,omitempty"`
	ToOrder      *float64 `json:"to_order,omitempty"`
}

// Store is the draft sync contract. Day keys use the "2006-01-02" form.
type Store interface {
	// Snapshot returns the current draft; an empty map when none exists.
	Snapshot(ctx context.Context, branchID string, day string) (Snapshot, error)

	// Subscribe delivers the current snapshot followed by a new snapshot
	// after every write, until ctx is cancelled. Consumers should compare
	// against local state and skip keys that did not change.
	Subscribe(ctx context.Context, branchID string, day string) (<-chan Snapshot, error)

	// WriteFields upserts one product's entry. The parent draft is created
	// on first write; sibling products are never touched.
	WriteFields(ctx context.Context, branchID string, day string, productID string, update FieldUpdate, updatedBy string) error

	// Clear deletes the whole draft. Called once, right after a successful
	// submission, so a stale draft cannot resurface in a later session.
	Clear(ctx context.Context, branchID string, day string) error
}

// DayKey formats a timestamp as the UTC day key drafts are stored under.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (e Entry) apply(update FieldUpdate, updatedBy string, at time.Time) Entry {
	if update.CurrentStock != nil {
		e.CurrentStock = *update.CurrentStock
	}
	if update.ToOrder != nil {
		e.ToOrder = *update.ToOrder
	}
	e.UpdatedAt = at
	e.UpdatedBy = updatedBy
	return e
}
