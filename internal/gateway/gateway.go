package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/lock"
	"github.com/borgvault/borgvault/internal/storage"
)

// Gateway authorizes sessions and runs serve sessions.
type Gateway struct {
	cfg    *config.Config
	stores *ledger.Stores
	locks  *lock.Manager
	tree   *storage.Tree
	trail  *audit.Trail
	runner ServeRunner
	logger zerolog.Logger

	// OnArtifactChange is called after the gateway mutated key material, so
	// the authorized keys artifact can be regenerated. Optional.
	OnArtifactChange func(ctx context.Context) error
}

// New creates a gateway.
func New(cfg *config.Config, stores *ledger.Stores, locks *lock.Manager, tree *storage.Tree, trail *audit.Trail, logger zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		stores: stores,
		locks:  locks,
		tree:   tree,
		trail:  trail,
		runner: &execRunner{},
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Authorized is a session resolved against the ledger.
type Authorized struct {
	Session   *Session
	Principal *domain.Principal

	// Repository is the bound repository for repository keys, nil otherwise.
	Repository *domain.Repository
}

// Authorize resolves the session identity against the ledger.
func (g *Gateway) Authorize(ctx context.Context, s *Session) (*Authorized, error) {
	principal, err := g.stores.Principals.GetByName(ctx, s.PrincipalName)
	if err != nil {
		return nil, err
	}

	auth := &Authorized{Session: s, Principal: principal}
	if s.RepositoryName != "" {
		// Scoping the lookup by owner enforces that a key can never reach
		// a repository of another principal.
		repo, err := g.stores.Repositories.GetByName(ctx, principal.ID, s.RepositoryName)
		if err != nil {
			return nil, err
		}
		auth.Repository = repo
	}

	g.logger.Info().
		Str("session", s.ID).
		Str("principal", principal.Name).
		Str("tier", s.Tier.String()).
		Str("source", s.SourceAddr).
		Msg("session authorized")
	return auth, nil
}

// Action is what a routed session is permitted to do.
type Action int

const (
	// ActionShell drops the session into the interactive shell.
	ActionShell Action = iota

	// ActionServe runs a backup engine serve session.
	ActionServe
)

// Route maps the client-supplied command to an action and verifies the tier
// permits it. Exactly one command string is whitelisted; everything else is
// rejected without execution.
func (g *Gateway) Route(auth *Authorized) (Action, error) {
	s := auth.Session
	switch s.Command {
	case "":
		if !s.Tier.AllowsShell() {
			return 0, &domain.AuthorizationError{
				Tier:   s.Tier,
				Action: "open an interactive shell",
				Reason: "repository keys serve backups only",
			}
		}
		return ActionShell, nil

	case g.cfg.Borg.ServeToken:
		if !s.Tier.AllowsServe() {
			return 0, &domain.AuthorizationError{
				Tier:   s.Tier,
				Action: "serve a repository",
				Reason: "use a repository key for backups",
			}
		}
		if auth.Repository == nil {
			return 0, &domain.AuthorizationError{
				Tier:   s.Tier,
				Action: "serve a repository",
				Reason: "no repository bound to this key",
			}
		}
		return ActionServe, nil

	default:
		return 0, &domain.AuthorizationError{
			Tier:   s.Tier,
			Action: fmt.Sprintf("run %q", s.Command),
			Reason: fmt.Sprintf("only %q is permitted", g.cfg.Borg.ServeToken),
		}
	}
}

// ConfirmShellConnect applies the side effects of an interactive login and
// returns a notice for the user, if any. A login with the current key while
// a rotation is pending proves the new key works, so the previous key is
// retired; a login with the pending key only warns.
func (g *Gateway) ConfirmShellConnect(ctx context.Context, auth *Authorized) (string, error) {
	principal := auth.Principal
	now := time.Now().UTC()
	principal.LastLoginAt = &now

	var notice string
	switch auth.Session.Tier {
	case domain.TierPrincipal:
		if principal.PendingKey != nil {
			retired := principal.PendingKey.Comment()
			principal.PendingKey = nil
			if err := g.stores.Principals.Update(ctx, principal); err != nil {
				return "", err
			}
			if err := g.trail.Principal(ctx, principal.ID, domain.OpPrincipalKeyRotated,
				fmt.Sprintf("key rotation confirmed, retired key %q", retired)); err != nil {
				return "", err
			}
			if g.OnArtifactChange != nil {
				if err := g.OnArtifactChange(ctx); err != nil {
					return "", err
				}
			}
			return fmt.Sprintf("Key rotation complete. Your previous key %q no longer works.", retired), nil
		}

	case domain.TierPrincipalPending:
		notice = "You are connected with a key scheduled for retirement. " +
			"Connect with your new key to complete the rotation."
	}

	if err := g.stores.Principals.Update(ctx, principal); err != nil {
		return "", err
	}
	return notice, nil
}
