// Package xid mints the prefixed identifiers stock records are keyed by.
// The prefix makes an id self-describing in logs and request paths.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Record prefixes.
const (
	Product     = "prd"
	Branch      = "brn"
	Check       = "chk"
	Transaction = "txn"
)

// New returns an id like "txn-1693412345678901234-9f3c0a1b2d4e5f60". The
// timestamp keeps ids roughly sortable by creation time; the random suffix
// makes cross-branch collisions implausible.
func New(prefix string) string {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		// An id helper should not panic; the timestamp alone still
		// identifies the record within a branch.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(suffix))
}
