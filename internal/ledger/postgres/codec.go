package postgres

import (
	"fmt"

	"github.com/borgvault/borgvault/internal/domain"
)

// keyToDB converts an SSH key to its nullable text column value.
func keyToDB(k *domain.SSHKey) *string {
	if k == nil {
		return nil
	}
	line := k.Line()
	return &line
}

// keyFromDB parses the nullable text column value back into a key.
func keyFromDB(v *string) (*domain.SSHKey, error) {
	if v == nil {
		return nil, nil
	}
	k, err := domain.ParseSSHKey(*v)
	if err != nil {
		return nil, fmt.Errorf("stored key is invalid: %w", err)
	}
	return k, nil
}
