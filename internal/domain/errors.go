package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, filesystem, etc.).

var (
	// ===========================================
	// Principal Errors
	// ===========================================

	// ErrPrincipalNotFound indicates the requested principal does not exist.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrPrincipalExists indicates a principal with the same name or email
	// already exists.
	ErrPrincipalExists = errors.New("principal already exists")

	// ===========================================
	// Repository Errors
	// ===========================================

	// ErrRepositoryNotFound indicates the requested repository does not exist.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrRepositoryExists indicates the principal already owns a repository
	// with the same name.
	ErrRepositoryExists = errors.New("repository already exists")

	// ErrTooManyRepositories indicates the principal reached its repository
	// count limit.
	ErrTooManyRepositories = errors.New("too many repositories")

	// ===========================================
	// Validation Errors
	// ===========================================

	// ErrNameLength indicates a principal or repository name length is
	// invalid (1-20 characters).
	ErrNameLength = errors.New("name must be between 1 and 20 characters")

	// ErrNameFormat indicates the name contains characters outside
	// [a-zA-Z0-9_].
	ErrNameFormat = errors.New("name may only contain letters, digits and underscore")

	// ErrKeyInvalid indicates an SSH key failed to parse or has no comment.
	ErrKeyInvalid = errors.New("invalid ssh key")

	// ErrKeysIdentical indicates the append and read/write keys of a
	// repository would carry the same key material.
	ErrKeysIdentical = errors.New("append and read/write keys must differ")

	// ===========================================
	// Sentinels for the typed errors below
	// ===========================================

	// ErrEnvironment matches any EnvironmentError.
	ErrEnvironment = errors.New("environment error")

	// ErrAuthorization matches any AuthorizationError.
	ErrAuthorization = errors.New("authorization error")

	// ErrLockTimeout matches any LockTimeoutError.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrQuotaViolation matches any QuotaViolationError.
	ErrQuotaViolation = errors.New("quota violation")

	// ErrStorageInconsistency matches any StorageInconsistencyError.
	ErrStorageInconsistency = errors.New("storage inconsistency")

	// ErrNotificationDelivery matches any NotificationDeliveryError.
	ErrNotificationDelivery = errors.New("notification delivery failed")
)

// EnvironmentError reports malformed, missing or inconsistent session
// environment variables. It is fatal before any action is attempted.
type EnvironmentError struct {
	// Variable names the offending variable, if a single one is at fault.
	Variable string
	Reason   string
}

func (e *EnvironmentError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("session environment: %s (variable %s)", e.Reason, e.Variable)
	}
	return "session environment: " + e.Reason
}

func (e *EnvironmentError) Unwrap() error { return ErrEnvironment }

// NewEnvironmentError creates an EnvironmentError for a named variable.
func NewEnvironmentError(variable, reason string) *EnvironmentError {
	return &EnvironmentError{Variable: variable, Reason: reason}
}

// AuthorizationError reports a capability tier that does not permit the
// requested action, or a command outside the whitelist. Fatal for the
// session; nothing is executed.
type AuthorizationError struct {
	Tier   CapabilityTier
	Action string
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tier %s may not %s: %s", e.Tier, e.Action, e.Reason)
	}
	return fmt.Sprintf("tier %s may not %s", e.Tier, e.Action)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// LockTimeoutError reports that another live process held an entity's lock
// past the configured timeout. Recoverable: the caller retries or reports
// busy.
type LockTimeoutError struct {
	// Entity describes the locked entity, e.g. "repository fotos".
	Entity string
	// Holder is the pid of the process holding the lock.
	Holder int
	// Waited is how long acquisition polled before giving up.
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%s locked by pid %d for %s", e.Entity, e.Holder, e.Waited)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// QuotaViolationError reports a proposed quota that violates an invariant,
// together with the exact boundary value that would have been accepted.
type QuotaViolationError struct {
	// Proposed is the rejected quota in bytes.
	Proposed int64
	// MinPermitted is the smallest acceptable value; set when the proposal
	// fell below current usage.
	MinPermitted int64
	// MaxPermitted is the largest acceptable value; set when the proposal
	// exceeded the principal's remaining quota.
	MaxPermitted int64
	Reason       string
}

func (e *QuotaViolationError) Error() string {
	switch {
	case e.MinPermitted > 0:
		return fmt.Sprintf("%s: minimum permissible quota is %d bytes", e.Reason, e.MinPermitted)
	case e.MaxPermitted > 0:
		return fmt.Sprintf("%s: maximum permissible quota is %d bytes", e.Reason, e.MaxPermitted)
	}
	return e.Reason
}

func (e *QuotaViolationError) Unwrap() error { return ErrQuotaViolation }

// NewQuotaTooSmall reports a quota proposal below current usage.
func NewQuotaTooSmall(proposed, minPermitted int64) *QuotaViolationError {
	return &QuotaViolationError{
		Proposed:     proposed,
		MinPermitted: minPermitted,
		Reason:       "proposed quota is below current usage",
	}
}

// NewQuotaTooLarge reports a quota proposal that would overflow the owner's
// quota.
func NewQuotaTooLarge(proposed, maxPermitted int64) *QuotaViolationError {
	return &QuotaViolationError{
		Proposed:     proposed,
		MaxPermitted: maxPermitted,
		Reason:       "proposed quota does not fit the principal quota",
	}
}

// StorageInconsistencyError reports drift between the ledger and the storage
// tree, detected by the startup consistency check. Fatal; no session is
// served until an operator resolves it.
type StorageInconsistencyError struct {
	Detail string
}

func (e *StorageInconsistencyError) Error() string {
	return "storage inconsistency: " + e.Detail
}

func (e *StorageInconsistencyError) Unwrap() error { return ErrStorageInconsistency }

// NotificationDeliveryError reports a single recipient whose notification
// could not be sent. Logged; the rest of the batch proceeds.
type NotificationDeliveryError struct {
	Recipient string
	Err       error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification to %s failed: %v", e.Recipient, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return ErrNotificationDelivery }
