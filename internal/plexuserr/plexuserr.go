// Package plexuserr is the error taxonomy of spec.md §7: sentinel errors for
// each family (SchemaViolation, InvariantViolation, IdentityError,
// LifecycleError, TransactionAborted, NotificationError), wrapped at the call
// site with %w and contextual fields, the way internal/storage wraps
// ErrDBNotInitialized throughout the teacher tree.
package plexuserr

import "errors"

// SchemaViolation: out-of-kind value assignment, negative index writes,
// unknown property assignment on a proxy. (A sparse index write is not a
// violation: it null-fills the gap.)
var ErrSchemaViolation = errors.New("plexus: schema violation")

// InvariantViolation: DuplicateChild, root-parent assignment, a
// materialization target whose CRDT shape disagrees with the field's kind.
var ErrInvariantViolation = errors.New("plexus: invariant violation")

// IdentityError family.
var (
	ErrUnknownType       = errors.New("plexus: unknown entity type")
	ErrMissingDependency = errors.New("plexus: dependency document not registered")
	ErrCrossDocReference = errors.New("plexus: entity's document is not a dependency of the referrer")
)

// LifecycleError: load-by-id surface called before root load, or
// materializing into a document not registered with this orchestrator.
var ErrLifecycle = errors.New("plexus: lifecycle error")

// ErrTransactionAborted wraps a panic/error raised inside a transact body;
// the pending notification queue is cleared before this propagates.
var ErrTransactionAborted = errors.New("plexus: transaction aborted")

// NotificationError is never returned to a caller (spec.md §7: "logged and
// skipped"); it exists so internal/logging callers can format a consistent
// message, not so users can errors.Is against it.
var ErrNotification = errors.New("plexus: notification callback failed")

// Is reports whether err ultimately wraps target, a thin wrapper over
// errors.Is kept here so call sites can read "plexuserr.Is" next to
// "plexuserr.ErrXxx" without importing the standard errors package too.
func Is(err, target error) bool { return errors.Is(err, target) }
