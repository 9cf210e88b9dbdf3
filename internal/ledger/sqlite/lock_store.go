package sqlite

import (
	"context"
	"fmt"

	"github.com/borgvault/borgvault/internal/ledger"
)

// lockStore implements ledger.LockStore for SQLite.
// The holder column lives in the entity row itself; claiming and releasing
// are single UPDATE statements whose WHERE clause re-checks the expected
// holder, which makes them atomic compare-and-swap operations even across
// processes.
type lockStore struct {
	db *DB
}

// NewLockStore creates a new SQLite lock store.
func NewLockStore(db *DB) ledger.LockStore {
	return &lockStore{db: db}
}

func lockTable(entity ledger.LockEntity) (string, error) {
	switch entity {
	case ledger.LockPrincipal:
		return "principals", nil
	case ledger.LockRepository:
		return "repositories", nil
	}
	return "", fmt.Errorf("%w: %q", ledger.ErrUnknownEntity, entity)
}

// Holder returns the pid currently recorded as lock holder, 0 if free.
func (s *lockStore) Holder(ctx context.Context, entity ledger.LockEntity, id int64) (int, error) {
	table, err := lockTable(entity)
	if err != nil {
		return 0, err
	}

	var holder int
	err = s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT lock_holder FROM `+table+` WHERE id = ?`, id).Scan(&holder)
	if err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("%w: %s %d", ledger.ErrNotFound, entity, id)
		}
		return 0, fmt.Errorf("failed to read lock holder: %w", err)
	}
	return holder, nil
}

// TryClaim atomically sets the holder to pid if it currently equals
// expected.
func (s *lockStore) TryClaim(ctx context.Context, entity ledger.LockEntity, id int64, pid, expected int) (bool, error) {
	table, err := lockTable(entity)
	if err != nil {
		return false, err
	}

	result, err := s.db.conn(ctx).ExecContext(ctx,
		`UPDATE `+table+` SET lock_holder = ? WHERE id = ? AND lock_holder = ?`,
		pid, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to claim lock: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

// Release atomically sets the holder back to 0 if it equals pid.
func (s *lockStore) Release(ctx context.Context, entity ledger.LockEntity, id int64, pid int) error {
	table, err := lockTable(entity)
	if err != nil {
		return err
	}

	_, err = s.db.conn(ctx).ExecContext(ctx,
		`UPDATE `+table+` SET lock_holder = 0 WHERE id = ? AND lock_holder = ?`,
		id, pid)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Ensure lockStore implements ledger.LockStore.
var _ ledger.LockStore = (*lockStore)(nil)
