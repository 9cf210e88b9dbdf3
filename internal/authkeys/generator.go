// Package authkeys renders the authorized keys artifact the outer SSH
// server authenticates against. Every key in the ledger becomes one forced
// command line that bakes the capability tier and the principal (and for
// repository keys, the repository) into the session environment. The
// artifact is the single bridge between SSH authentication and the ledger;
// it is regenerated after every key mutation.
package authkeys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/gateway"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/storage"
)

const header = `# Managed by borgvault. Manual edits are overwritten.
`

// Generator renders and writes the artifact.
type Generator struct {
	principals   ledger.PrincipalStore
	repositories ledger.RepositoryStore
	tree         *storage.Tree
	commandPath  string
	logger       zerolog.Logger
}

// NewGenerator creates a Generator. commandPath is the absolute path of the
// gateway binary forced onto every line.
func NewGenerator(stores *ledger.Stores, tree *storage.Tree, commandPath string, logger zerolog.Logger) *Generator {
	return &Generator{
		principals:   stores.Principals,
		repositories: stores.Repositories,
		tree:         tree,
		commandPath:  commandPath,
		logger:       logger.With().Str("component", "authkeys").Logger(),
	}
}

// Render produces the artifact content. Principals and repositories are
// walked in name order and key slots in tier order, so the same ledger state
// always renders byte-identical output.
func (g *Generator) Render(ctx context.Context) (string, error) {
	principals, err := g.principals.List(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header)
	for _, p := range principals {
		if p.Key != nil {
			b.WriteString(g.line(domain.TierPrincipal, p.Name, "", p.Key))
		}
		if p.PendingKey != nil {
			b.WriteString(g.line(domain.TierPrincipalPending, p.Name, "", p.PendingKey))
		}

		repos, err := g.repositories.ListByPrincipal(ctx, p.ID)
		if err != nil {
			return "", err
		}
		for _, r := range repos {
			if r.AppendKey != nil {
				b.WriteString(g.line(domain.TierRepoAppend, p.Name, r.Name, r.AppendKey))
			}
			if r.ReadWriteKey != nil {
				b.WriteString(g.line(domain.TierRepoReadWrite, p.Name, r.Name, r.ReadWriteKey))
			}
		}
	}
	return b.String(), nil
}

func (g *Generator) line(tier domain.CapabilityTier, principalName, repoName string, key *domain.SSHKey) string {
	opts := []string{
		fmt.Sprintf("command=%q", g.commandPath),
		"restrict",
		fmt.Sprintf("environment=%q", gateway.EnvKeyType+"="+tier.Encode()),
		fmt.Sprintf("environment=%q", gateway.EnvPrincipal+"="+principalName),
	}
	if repoName != "" {
		opts = append(opts, fmt.Sprintf("environment=%q", gateway.EnvRepo+"="+repoName))
	}
	return strings.Join(opts, ",") + " " + key.Line() + "\n"
}

// Write renders the artifact and replaces the target file atomically, so
// the SSH server never reads a half-written artifact.
func (g *Generator) Write(ctx context.Context) error {
	content, err := g.Render(ctx)
	if err != nil {
		return err
	}

	target := g.tree.AuthorizedKeysPath()
	tmp, err := os.CreateTemp(filepath.Dir(target), ".authorized_keys-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace artifact: %w", err)
	}

	g.logger.Info().Str("path", target).Msg("authorized keys artifact regenerated")
	return nil
}
