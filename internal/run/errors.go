// Package run defines the core data model for training runs: descriptors,
// fold outcomes, and the error taxonomy shared across the orchestrator.
package run

import "errors"

// Sentinel errors for run orchestration.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration indicates invalid or missing run parameters.
	// Fatal: the run aborts before any fold executes.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidPartition indicates a fold count incompatible with the
	// dataset size. Fatal: the run aborts before any fold executes.
	ErrInvalidPartition = errors.New("invalid partition")

	// ErrFoldExecution wraps trainer failures. Recorded per fold, never
	// fatal to the run; sibling folds keep executing.
	ErrFoldExecution = errors.New("fold execution failed")

	// ErrLedgerPersistence indicates an outcome could not be durably
	// appended. Fatal: an outcome that cannot be persisted must not be
	// silently lost.
	ErrLedgerPersistence = errors.New("ledger persistence failed")
)
