package postgres

import (
	"context"
	"fmt"

	"github.com/borgvault/borgvault/internal/ledger"
)

// lockStore implements ledger.LockStore for PostgreSQL.
// The holder column lives in the entity row itself; claiming and releasing
// re-check the expected holder in the WHERE clause, making them atomic
// compare-and-swap operations even across hosts.
type lockStore struct {
	db *DB
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
	err = s.db.conn(ctx).QueryRow(ctx,
		`SELECT lock_holder FROM `+table+` WHERE id = $1`, id).Scan(&holder)
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

	tag, err := s.db.conn(ctx).Exec(ctx,
		`UPDATE `+table+` SET lock_holder = $1 WHERE id = $2 AND lock_holder = $3`,
		pid, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to claim lock: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Release atomically sets the holder back to 0 if it equals pid.
func (s *lockStore) Release(ctx context.Context, entity ledger.LockEntity, id int64, pid int) error {
	table, err := lockTable(entity)
	if err != nil {
		return err
	}

	_, err = s.db.conn(ctx).Exec(ctx,
		`UPDATE `+table+` SET lock_holder = 0 WHERE id = $1 AND lock_holder = $2`,
		id, pid)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Ensure lockStore implements ledger.LockStore.
var _ ledger.LockStore = (*lockStore)(nil)
