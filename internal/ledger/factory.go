// Package ledger provides the data access layer for BorgVault.
// This file contains the factory that selects a backend based on
// configuration.
package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
)

// Backend is a connected ledger backend.
type Backend interface {
	// Stores returns the store set of this backend.
	Stores() *Stores

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Opener connects a concrete backend. The sqlite and postgres packages
// register themselves here from their init functions so that this package
// does not import its own implementations.
type Opener func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Backend, error)

var openers = map[string]Opener{}

// Register makes a backend available under a driver name.
func Register(driver string, open Opener) {
	openers[driver] = open
}

// Open connects the backend selected by cfg.Database.Driver.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	open, ok := openers[cfg.Database.Driver]
	if !ok {
		return nil, fmt.Errorf("no ledger backend registered for driver %q", cfg.Database.Driver)
	}
	return open(ctx, cfg, logger)
}
