// Package store holds the State Store implementations. A store exposes a
// read-only Snapshot and a single write entry point, Commit, which requires
// a token minted by the arbiter after an approved decision. There is no
// other way to mutate a store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/schedule"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Store is a State Store: snapshot reads plus token-gated commits.
type Store interface {
	arbiter.Committer
	Snapshot(ctx context.Context) (schedule.Snapshot, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

var (
	// ErrStaleState is matched by every StaleStateError.
	ErrStaleState = errors.New("stale state")
	// ErrInvariant indicates a commit that would break the schedule's
	// invariants. Validation should have made this impossible.
	ErrInvariant = errors.New("store invariant violated")
)

// StaleStateError reports that the store moved past the snapshot an action
// validated against. It is retriable: re-running the action against the
// current state may succeed.
type StaleStateError struct {
	Base    int64
	Current int64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: validated against version %d, store is at %d", e.Base, e.Current)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

// Retriable implements the arbiter's retriable-error contract.
func (e *StaleStateError) Retriable() bool { return true }

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Open creates a store for the given driver. dataDir is used by the SQLite
// driver only.
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(Config{DataDir: dataDir})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q: must be one of: sqlite, memory", driver)
	}
}
