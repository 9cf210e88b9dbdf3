package domain

import (
	"time"
)

// Repository represents a single quota-bounded backup storage unit.
// Every repository belongs to exactly one principal and maps to one
// directory in the storage tree that the backup engine serves in place.
type Repository struct {
	// ID is the unique identifier for the repository (auto-generated).
	ID int64 `json:"id"`

	// PrincipalID is the ID of the owning principal.
	PrincipalID int64 `json:"principal_id"`

	// Name is the repository name, unique per principal.
	// Constraints: 1-20 characters, [a-zA-Z0-9_] only.
	Name string `json:"name"`

	// QuotaBytes is the byte quota for this repository. It is capped so
	// that the owner's repositories never allocate more than the owner's
	// quota in total.
	QuotaBytes int64 `json:"quota_bytes"`

	// LastSessionSuccess records whether the most recent serve session
	// against this repository exited cleanly.
	LastSessionSuccess bool `json:"last_session_success"`

	// AppendKey is the SSH key permitted to run append-only serve
	// sessions. Nil if none is set.
	AppendKey *SSHKey `json:"-"`

	// ReadWriteKey is the SSH key permitted to run read/write serve
	// sessions. Nil if none is set.
	ReadWriteKey *SSHKey `json:"-"`

	// LockHolder is the pid of the process holding the repository's
	// advisory lock, or 0 if the lock is free.
	LockHolder int `json:"lock_holder"`

	// CreatedAt is the timestamp when the repository was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewRepository creates a new Repository with default values.
func NewRepository(principalID int64, name string, quotaBytes int64) *Repository {
	return &Repository{
		PrincipalID:        principalID,
		Name:               name,
		QuotaBytes:         quotaBytes,
		LastSessionSuccess: true,
		CreatedAt:          time.Now().UTC(),
	}
}

// QuotaGB returns the repository quota in whole gigabytes, rounded down.
func (r *Repository) QuotaGB() int64 {
	return r.QuotaBytes / GB
}
