package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidID         = errors.New("invalid id")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
	ErrBackendClosed     = errors.New("backend is closed")
	ErrStaleSchema       = errors.New("document schema is older than the current version")
)

// Migration and mirroring errors.
var (
	ErrMigrationStep                  = errors.New("migration step failed")
	ErrValidationFailedAfterMigration = errors.New("validation failed after migration")
	ErrMirrorWrite                    = errors.New("mirror write failed")
	ErrAlreadyInProgress              = errors.New("migration already in progress")
)

// ValidationError reports caller data that fails a required-field or shape
// check. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an operation on an id that does not exist. It matches
// ErrNotFound with errors.Is.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// MigrationStepError reports the migration step that failed. The input
// document is untouched when this error is returned.
type MigrationStepError struct {
	Step string
	From string
	To   string
	Err  error
}

func (e *MigrationStepError) Error() string {
	return fmt.Sprintf("migration step %s (%s -> %s): %v", e.Step, e.From, e.To, e.Err)
}

func (e *MigrationStepError) Unwrap() error { return e.Err }

func (e *MigrationStepError) Is(target error) bool { return target == ErrMigrationStep }

// ValidationFailedAfterMigration carries the structural errors found after a
// migration. RolledBack is set when the workflow restored the backup.
type ValidationFailedAfterMigration struct {
	Errors     []string
	RolledBack bool
}

func (e *ValidationFailedAfterMigration) Error() string {
	msg := fmt.Sprintf("validation failed after migration (%d errors)", len(e.Errors))
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors[:min(len(e.Errors), 3)], "; ")
	}
	if e.RolledBack {
		msg += "; migration was rolled back"
	}
	return msg
}

func (e *ValidationFailedAfterMigration) Is(target error) bool {
	return target == ErrValidationFailedAfterMigration
}

// MirrorWriteError is a secondary-backend failure during dual-write. It is
// never returned to the caller of the primary operation.
type MirrorWriteError struct {
	Op         string
	Collection Collection
	ID         string
	Err        error
}

func (e *MirrorWriteError) Error() string {
	return fmt.Sprintf("mirror %s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *MirrorWriteError) Unwrap() error { return e.Err }

func (e *MirrorWriteError) Is(target error) bool { return target == ErrMirrorWrite }

// AlreadyInProgressError is returned when a migration workflow is started
// while another one is running.
type AlreadyInProgressError struct {
	RunID     string
	StartedAt time.Time
}

func (e *AlreadyInProgressError) Error() string {
	if e.RunID == "" {
		return "migration already in progress"
	}
	return fmt.Sprintf("migration %s already in progress since %s", e.RunID, e.StartedAt.Format(time.RFC3339))
}

func (e *AlreadyInProgressError) Is(target error) bool { return target == ErrAlreadyInProgress }
