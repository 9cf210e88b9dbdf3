package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// ServeRunner executes the backup engine process with the session's stdio.
type ServeRunner interface {
	Run(ctx context.Context, executable string, args []string, dir string, env []string) (exitCode int, err error)
}

// execRunner runs the engine as a child process wired to this process's
// stdio, which the SSH server connects to the client.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, executable string, args []string, dir string, env []string) (int, error) {
	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", executable, err)
}

// Serve runs one serve session against the bound repository. The repository
// lock is held for the whole session; the transaction counter before and
// after tells whether the session committed data, which drives both the
// audit record and staleness accounting.
func (g *Gateway) Serve(ctx context.Context, auth *Authorized) error {
	s := auth.Session
	principal := auth.Principal
	repo := auth.Repository
	repoPath := g.tree.RepositoryPath(principal.Name, repo.Name)

	guard, err := g.locks.Acquire(ctx, ledger.LockRepository, repo.ID, "repository "+repo.Name)
	if err != nil {
		if errors.Is(err, domain.ErrLockTimeout) {
			return fmt.Errorf("repository %s is busy, try again later: %w", repo.Name, err)
		}
		return err
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			g.logger.Error().Err(err).Str("repository", repo.Name).Msg("failed to release repository lock")
		}
	}()

	counterBefore, err := g.tree.TransactionCounter(repoPath)
	if err != nil {
		return err
	}

	if err := g.trail.Repository(ctx, repo, domain.OpServeBegin,
		fmt.Sprintf("session %s from %s as %s", s.ID, s.SourceAddr, s.Tier)); err != nil {
		return err
	}

	args := []string{
		"serve",
		"--restrict-to-path", repoPath,
		"--storage-quota", fmt.Sprintf("%dG", repo.QuotaGB()),
	}
	if s.Tier.AppendOnly() {
		args = append(args, "--append-only")
	}

	// The child gets a minimal environment. Only the original command is
	// forwarded; nothing else from the session leaks through.
	env := []string{EnvOriginalCommand + "=" + s.Command}

	g.logger.Info().
		Str("session", s.ID).
		Str("repository", repo.Name).
		Bool("append_only", s.Tier.AppendOnly()).
		Msg("serve session starting")

	exitCode, runErr := g.runner.Run(ctx, g.cfg.Borg.Executable, args, repoPath, env)

	counterAfter, counterErr := g.tree.TransactionCounter(repoPath)
	if counterErr != nil {
		g.logger.Error().Err(counterErr).Str("repository", repo.Name).Msg("failed to read transaction counter")
		counterAfter = counterBefore
	}

	success := runErr == nil && exitCode == 0
	modified := counterAfter > counterBefore

	op := domain.OpServeSuccess
	if !success {
		op = domain.OpServeAbort
	}

	data := fmt.Sprintf("session %s exit %d, transactions %d -> %d", s.ID, exitCode, counterBefore, counterAfter)
	if runErr != nil {
		data = fmt.Sprintf("session %s failed: %v", s.ID, runErr)
	}
	if err := g.trail.Repository(ctx, repo, op, data); err != nil {
		return err
	}

	// An advanced transaction counter gets its own entry on top of the
	// outcome one; staleness accounting keys off the modify variant alone.
	if modified {
		modifyOp := domain.OpServeModifySuccess
		if !success {
			modifyOp = domain.OpServeModifyAbort
		}
		if err := g.trail.Repository(ctx, repo, modifyOp, data); err != nil {
			return err
		}
	}

	repo.LastSessionSuccess = success
	if err := g.stores.Repositories.Update(ctx, repo); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if exitCode != 0 {
		return fmt.Errorf("serve session exited with status %d", exitCode)
	}
	return nil
}
