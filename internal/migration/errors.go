package migration

import (
	"errors"

	"github.com/nethalo/dbalter/internal/chunk"
)

var (
	// ErrUnsafeSchema is a failed precondition: missing table, AFTER
	// triggers, foreign keys or an alteration that cannot run online.
	ErrUnsafeSchema = errors.New("unsafe schema")
	// ErrNameCollision means the shadow or archive table name is taken.
	ErrNameCollision = errors.New("name collision")
	// ErrLockAcquisition means the snapshot lock could not be taken within
	// the retry bound.
	ErrLockAcquisition = errors.New("could not acquire table locks")
	// ErrReconciliationMismatch means source and shadow row counts differ
	// right before the swap.
	ErrReconciliationMismatch = errors.New("row count mismatch between source and shadow table")

	ErrNoSharedKey = chunk.ErrNoSharedKey
	ErrNoUsableKey = chunk.ErrNoUsableKey
)
