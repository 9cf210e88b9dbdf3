// Package domain contains the core entities of the BorgVault backup gateway.
// These are plain Go structs with no persistence logic; the ledger package
// owns how they are stored.
package domain

import (
	"regexp"
	"time"
)

// nameRegex validates principal and repository names.
// Names end up as directory names in the storage tree, so the charset is
// deliberately narrow.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// MaxNameLength is the maximum length of principal and repository names.
const MaxNameLength = 20

// Principal represents an account that owns backup repositories.
// A principal authenticates with SSH keys; which key was used determines the
// capability tier of the session (see CapabilityTier).
type Principal struct {
	// ID is the unique identifier for the principal (auto-generated).
	ID int64 `json:"id"`

	// Name is the unique account name. Constraints: 1-20 characters,
	// [a-zA-Z0-9_] only.
	Name string `json:"name"`

	// Email is the unique contact address, used for stale-backup
	// notifications.
	Email string `json:"email"`

	// QuotaBytes is the total byte quota across all repositories owned by
	// this principal. The sum of the repositories' quotas never exceeds it.
	QuotaBytes int64 `json:"quota_bytes"`

	// MaxRepoCount is the maximum number of repositories the principal may
	// own.
	MaxRepoCount int `json:"max_repo_count"`

	// Key is the current management SSH key. Nil if none is set.
	Key *SSHKey `json:"-"`

	// PendingKey is the previous management key kept during key rotation.
	// It is cleared when the principal first connects with the new key.
	PendingKey *SSHKey `json:"-"`

	// LockHolder is the pid of the process holding the principal's advisory
	// lock, or 0 if the lock is free.
	LockHolder int `json:"lock_holder"`

	// CreatedAt is the timestamp when the principal was created.
	CreatedAt time.Time `json:"created_at"`

	// LastLoginAt is the timestamp of the last interactive session, if any.
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// NewPrincipal creates a new Principal with default values.
func NewPrincipal(name, email string, quotaBytes int64, maxRepos int) *Principal {
	return &Principal{
		Name:         name,
		Email:        email,
		QuotaBytes:   quotaBytes,
		MaxRepoCount: maxRepos,
		CreatedAt:    time.Now().UTC(),
	}
}

// ValidateName checks a principal or repository name against the naming
// rules shared by both entity kinds.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return ErrNameLength
	}
	if !nameRegex.MatchString(name) {
		return ErrNameFormat
	}
	return nil
}

// QuotaGB returns the principal quota in whole gigabytes, rounded down.
func (p *Principal) QuotaGB() int64 {
	return p.QuotaBytes / GB
}

// GB is the decimal gigabyte used for all operator-facing quota values.
const GB = 1000 * 1000 * 1000
