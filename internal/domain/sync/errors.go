package sync

import "errors"

var (
	// ErrUnknownResourceType is returned for a SyncItem whose resource_type
	// has no registered synchronizer. It is a per-item failure; the batch
	// continues.
	ErrUnknownResourceType = errors.New("unknown resource type")

	// ErrConflictNotFound is returned by resolution against a missing
	// conflict id.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictResolved is returned by resolution against a conflict that
	// has already been resolved. Resolved conflicts are immutable.
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrMergeNotSupported is returned for the merge resolution strategy.
	// Field-level merge semantics are deliberately unspecified; the engine
	// fails loudly instead of guessing.
	ErrMergeNotSupported = errors.New("merge resolution is not supported")

	// ErrStaleWrite is returned by a synchronizer when its conditional
	// update finds the resource modified since it was read. The caller
	// re-reads and raises a conflict instead of losing the concurrent write.
	ErrStaleWrite = errors.New("resource modified since read")
)
