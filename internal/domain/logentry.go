package domain

import (
	"fmt"
	"time"
)

// Operation tags a log entry with the kind of event it records.
// Values are stable; they are persisted as integers by the ledger codec.
type Operation int

const (
	// OpCreatePrincipal records creation of a principal.
	OpCreatePrincipal Operation = 1
	// OpDeletePrincipal records deletion of a principal.
	OpDeletePrincipal Operation = 2
	// OpCreateRepository records creation of a repository.
	OpCreateRepository Operation = 3
	// OpDeleteRepository records deletion of a repository.
	OpDeleteRepository Operation = 4
	// OpServeBegin records the start of a serve session.
	OpServeBegin Operation = 5
	// OpServeSuccess records a serve session that exited cleanly.
	OpServeSuccess Operation = 6
	// OpServeAbort records a serve session that exited non-zero.
	OpServeAbort Operation = 7
	// OpServeModifySuccess records a clean serve session whose transaction
	// counter advanced, i.e. a backup that actually wrote data.
	OpServeModifySuccess Operation = 8
	// OpServeModifyAbort records a failed serve session whose transaction
	// counter advanced anyway.
	OpServeModifyAbort Operation = 9
	// OpServeLog records free-form serve session diagnostics.
	OpServeLog Operation = 10
	// OpPrincipalKeySet records a principal management key change.
	OpPrincipalKeySet Operation = 11
	// OpPrincipalKeyRotated records confirmation of a key rotation (the
	// pending key slot was cleared).
	OpPrincipalKeyRotated Operation = 12
	// OpRepositoryKeySet records a repository key change.
	OpRepositoryKeySet Operation = 13
	// OpQuotaChange records an accepted quota change.
	OpQuotaChange Operation = 14
	// OpNotificationSent records a dispatched stale-backup notification.
	OpNotificationSent Operation = 15
	// OpMaintenance records a maintenance pass.
	OpMaintenance Operation = 16
)

var operationNames = map[Operation]string{
	OpCreatePrincipal:     "CREATE_PRINCIPAL",
	OpDeletePrincipal:     "DELETE_PRINCIPAL",
	OpCreateRepository:    "CREATE_REPOSITORY",
	OpDeleteRepository:    "DELETE_REPOSITORY",
	OpServeBegin:          "SERVE_BEGIN",
	OpServeSuccess:        "SERVE_SUCCESS",
	OpServeAbort:          "SERVE_ABORT",
	OpServeModifySuccess:  "SERVE_MODIFY_SUCCESS",
	OpServeModifyAbort:    "SERVE_MODIFY_ABORT",
	OpServeLog:            "SERVE_LOG",
	OpPrincipalKeySet:     "PRINCIPAL_KEY_SET",
	OpPrincipalKeyRotated: "PRINCIPAL_KEY_ROTATED",
	OpRepositoryKeySet:    "REPOSITORY_KEY_SET",
	OpQuotaChange:         "QUOTA_CHANGE",
	OpNotificationSent:    "NOTIFICATION_SENT",
	OpMaintenance:         "MAINTENANCE",
}

// String returns the stable uppercase name of the operation.
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPERATION(%d)", int(o))
}

// OperationFromInt decodes a persisted operation value.
// This is the decode half of the ledger codec; the encode half is a plain
// int conversion.
func OperationFromInt(v int) (Operation, error) {
	op := Operation(v)
	if _, ok := operationNames[op]; !ok {
		return 0, fmt.Errorf("unknown operation value %d", v)
	}
	return op, nil
}

// LogEntry is one immutable record in the audit trail. Entries are scoped
// to a principal, to a repository, or to neither (administrative). Only the
// Acknowledged flag may change after the entry is written.
type LogEntry struct {
	ID int64 `json:"id"`

	// PrincipalID scopes the entry to a principal, if non-nil.
	PrincipalID *int64 `json:"principal_id,omitempty"`

	// RepositoryID scopes the entry to a repository, if non-nil.
	RepositoryID *int64 `json:"repository_id,omitempty"`

	// Operation is the kind of event recorded.
	Operation Operation `json:"operation"`

	// Data is free-text payload describing the event.
	Data string `json:"data"`

	// Acknowledged marks the entry as seen by maintenance tooling.
	Acknowledged bool `json:"acknowledged"`

	CreatedAt time.Time `json:"created_at"`
}

// Format renders the entry as a single operator-facing log line.
func (e *LogEntry) Format() string {
	return fmt.Sprintf("[%s] %s %s", e.CreatedAt.Format(time.RFC3339), e.Operation, e.Data)
}
