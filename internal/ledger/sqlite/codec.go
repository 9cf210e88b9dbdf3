package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/borgvault/borgvault/internal/domain"
)

// Column codecs. Enum-valued and key-valued fields are stored in plain
// encodings (integer, authorized_keys text) and decoded here, at the
// persistence boundary.

func timeToDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func timeFromDB(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t, nil
}

func timePtrToDB(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeToDB(*t), Valid: true}
}

func timePtrFromDB(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := timeFromDB(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func keyToDB(k *domain.SSHKey) sql.NullString {
	if k == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: k.Line(), Valid: true}
}

func keyFromDB(ns sql.NullString) (*domain.SSHKey, error) {
	if !ns.Valid {
		return nil, nil
	}
	return domain.ParseSSHKey(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func idPtrFromDB(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

func idPtrToDB(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
