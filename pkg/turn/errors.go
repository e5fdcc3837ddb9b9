package turn

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both a missing session and a session owned by someone
// else; callers cannot distinguish the two.
var ErrNotFound = errors.New("session not found")

// PersistenceError marks a failed message insert or session touch after a
// reply was already generated. Schema distinguishes record-shape problems
// from plain write failures.
type PersistenceError struct {
	Op     string
	Schema bool
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Schema {
		return fmt.Sprintf("persistence schema error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence error in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
