// Package shell implements the interactive session for principals. It is a
// line-oriented command loop over the session's stdio; the SSH server
// connects it to the client terminal.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/service"
	"github.com/borgvault/borgvault/internal/storage"
)

// Shell is the interactive command loop.
type Shell struct {
	cfg    *config.Config
	svc    *service.Service
	stores *ledger.Stores
	tree   *storage.Tree
	in     *bufio.Scanner
	out    io.Writer
	logger zerolog.Logger
}

// New creates a Shell reading commands from in and writing to out.
func New(cfg *config.Config, svc *service.Service, stores *ledger.Stores, tree *storage.Tree, in io.Reader, out io.Writer, logger zerolog.Logger) *Shell {
	return &Shell{
		cfg:    cfg,
		svc:    svc,
		stores: stores,
		tree:   tree,
		in:     bufio.NewScanner(in),
		out:    out,
		logger: logger.With().Str("component", "shell").Logger(),
	}
}

// Run drives the command loop for one principal until quit or EOF. notice
// is printed after the greeting, e.g. a key rotation message.
func (s *Shell) Run(ctx context.Context, principal *domain.Principal, notice string) error {
	fmt.Fprintf(s.out, "Welcome to %s, %s.\n", s.cfg.Service.Name, principal.Name)
	fmt.Fprintf(s.out, "Questions? Contact %s. Type 'help' for commands.\n", s.cfg.Service.AdminContact)
	if notice != "" {
		fmt.Fprintf(s.out, "\n%s\n", notice)
	}

	for {
		fmt.Fprintf(s.out, "\n%s> ", s.cfg.Service.Name)
		if !s.in.Scan() {
			fmt.Fprintln(s.out, "bye")
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}

		quit, err := s.dispatch(ctx, principal, line)
		if quit {
			fmt.Fprintln(s.out, "bye")
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *Shell) dispatch(ctx context.Context, principal *domain.Principal, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit", "logout":
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	case "info":
		return false, s.cmdInfo(ctx, principal)
	case "key":
		return false, s.cmdKey(ctx, principal, fields[1:], line)
	case "repo":
		return false, s.cmdRepo(ctx, principal, fields[1:], line)
	case "logs":
		return false, s.cmdLogs(ctx, principal, fields[1:])
	default:
		return false, fmt.Errorf("unknown command %q, try 'help'", fields[0])
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  info                                  show account summary
  key set <authorized_keys line>        install a new management key
  repo list                             list repositories
  repo create <name> [quota GB]         create a repository
  repo delete <name>                    delete a repository and its data
  repo quota <name> <GB>                change a repository quota
  repo key <name> append|rw set <line>  install a serve key
  repo key <name> append|rw clear       remove a serve key
  logs [repository]                     show the account audit trail
  quit                                  close the session
`)
}

func (s *Shell) cmdInfo(ctx context.Context, principal *domain.Principal) error {
	repos, err := s.stores.Repositories.ListByPrincipal(ctx, principal.ID)
	if err != nil {
		return err
	}

	var used int64
	for _, r := range repos {
		u, err := s.tree.Usage(s.tree.RepositoryPath(principal.Name, r.Name))
		if err != nil {
			return err
		}
		used += u
	}

	fmt.Fprintf(s.out, "account:      %s <%s>\n", principal.Name, principal.Email)
	fmt.Fprintf(s.out, "quota:        %d GB (%d bytes used)\n", principal.QuotaGB(), used)
	fmt.Fprintf(s.out, "repositories: %d of %d\n", len(repos), principal.MaxRepoCount)
	if principal.Key != nil {
		fmt.Fprintf(s.out, "key:          %q %s\n", principal.Key.Comment(), principal.Key.Fingerprint())
	}
	if principal.PendingKey != nil {
		fmt.Fprintf(s.out, "pending key:  %q (rotation not yet confirmed)\n", principal.PendingKey.Comment())
	}
	return nil
}

func (s *Shell) cmdKey(ctx context.Context, principal *domain.Principal, args []string, line string) error {
	if len(args) < 2 || args[0] != "set" {
		return errors.New("usage: key set <authorized_keys line>")
	}
	keyLine := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "key"), " set"))
	if err := s.svc.SetPrincipalKey(ctx, principal, keyLine); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Key %q installed.", principal.Key.Comment())
	if principal.PendingKey != nil {
		fmt.Fprintf(s.out, " Your previous key works until you log in with the new one.")
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *Shell) cmdRepo(ctx context.Context, principal *domain.Principal, args []string, line string) error {
	if len(args) == 0 {
		return errors.New("usage: repo list|create|delete|quota|key ...")
	}
	switch args[0] {
	case "list":
		return s.cmdRepoList(ctx, principal)
	case "create":
		return s.cmdRepoCreate(ctx, principal, args[1:])
	case "delete":
		return s.cmdRepoDelete(ctx, principal, args[1:])
	case "quota":
		return s.cmdRepoQuota(ctx, principal, args[1:])
	case "key":
		return s.cmdRepoKey(ctx, principal, args[1:], line)
	default:
		return fmt.Errorf("unknown repo command %q", args[0])
	}
}

func (s *Shell) cmdRepoList(ctx context.Context, principal *domain.Principal) error {
	repos, err := s.stores.Repositories.ListByPrincipal(ctx, principal.ID)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		fmt.Fprintln(s.out, "no repositories")
		return nil
	}
	for _, r := range repos {
		used, err := s.tree.Usage(s.tree.RepositoryPath(principal.Name, r.Name))
		if err != nil {
			return err
		}
		state := "ok"
		if !r.LastSessionSuccess {
			state = "last session failed"
		}
		fmt.Fprintf(s.out, "%-20s %4d GB quota, %12d bytes used, %s\n", r.Name, r.QuotaGB(), used, state)
	}
	return nil
}

func (s *Shell) cmdRepoCreate(ctx context.Context, principal *domain.Principal, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: repo create <name> [quota GB]")
	}
	var quotaBytes int64
	if len(args) > 1 {
		gb, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("quota must be a whole number of GB: %q", args[1])
		}
		quotaBytes = gb * domain.GB
	}
	repo, err := s.svc.CreateRepository(ctx, principal, args[0], quotaBytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Repository %s created with a quota of %d GB.\n", repo.Name, repo.QuotaGB())
	fmt.Fprintln(s.out, "Install a serve key with 'repo key' before backing up.")
	return nil
}

func (s *Shell) cmdRepoDelete(ctx context.Context, principal *domain.Principal, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: repo delete <name>")
	}
	repo, err := s.stores.Repositories.GetByName(ctx, principal.ID, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Delete repository %s and ALL its backups? Type the repository name to confirm: ", repo.Name)
	if !s.in.Scan() || strings.TrimSpace(s.in.Text()) != repo.Name {
		fmt.Fprintln(s.out, "not deleted")
		return nil
	}

	if err := s.svc.DeleteRepository(ctx, principal, repo); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Repository %s deleted.\n", repo.Name)
	return nil
}

func (s *Shell) cmdRepoQuota(ctx context.Context, principal *domain.Principal, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: repo quota <name> <GB>")
	}
	repo, err := s.stores.Repositories.GetByName(ctx, principal.ID, args[0])
	if err != nil {
		return err
	}
	gb, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("quota must be a whole number of GB: %q", args[1])
	}
	if err := s.svc.Quota().SetRepositoryQuota(ctx, principal, repo, gb*domain.GB); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Quota of %s is now %d GB.\n", repo.Name, repo.QuotaGB())
	return nil
}

func (s *Shell) cmdRepoKey(ctx context.Context, principal *domain.Principal, args []string, line string) error {
	usage := errors.New("usage: repo key <name> append|rw set <line> | repo key <name> append|rw clear")
	if len(args) < 3 {
		return usage
	}
	repo, err := s.stores.Repositories.GetByName(ctx, principal.ID, args[0])
	if err != nil {
		return err
	}

	var kind service.RepositoryKeyKind
	switch args[1] {
	case "append":
		kind = service.KeyAppend
	case "rw":
		kind = service.KeyReadWrite
	default:
		return usage
	}

	switch args[2] {
	case "clear":
		if err := s.svc.SetRepositoryKey(ctx, repo, kind, ""); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Key removed from %s.\n", repo.Name)
		return nil
	case "set":
		marker := " set "
		idx := strings.Index(line, marker)
		if idx < 0 {
			return usage
		}
		keyLine := strings.TrimSpace(line[idx+len(marker):])
		if keyLine == "" {
			return usage
		}
		if err := s.svc.SetRepositoryKey(ctx, repo, kind, keyLine); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Key installed on %s.\n", repo.Name)
		return nil
	default:
		return usage
	}
}

func (s *Shell) cmdLogs(ctx context.Context, principal *domain.Principal, args []string) error {
	filter := ledger.LogFilter{PrincipalID: &principal.ID}
	if len(args) > 0 {
		repo, err := s.stores.Repositories.GetByName(ctx, principal.ID, args[0])
		if err != nil {
			return err
		}
		filter.RepositoryID = &repo.ID
	}

	entries, err := s.svc.Trail().Entries(ctx, filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "no entries")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(s.out, e.Format())
	}
	return nil
}
