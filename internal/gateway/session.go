// Package gateway mediates incoming sessions. The outer SSH server matches
// a key against the generated authorized keys artifact, forces this program
// as the command and bakes the session identity into environment variables;
// everything here distrusts the client beyond that identity.
package gateway

import (
	"strings"

	"github.com/google/uuid"

	"github.com/borgvault/borgvault/internal/domain"
)

// Environment variable names of the session contract.
const (
	EnvSSHConnection   = "SSH_CONNECTION"
	EnvOriginalCommand = "SSH_ORIGINAL_COMMAND"
	EnvLogname         = "LOGNAME"

	// EnvKeyType carries the capability tier baked into the matched
	// authorized keys line.
	EnvKeyType = "BORGVAULT_KEY_TYPE"

	// EnvPrincipal carries the principal name baked into the matched line.
	EnvPrincipal = "BORGVAULT_PRINCIPAL"

	// EnvRepo carries the bound repository name for repository keys.
	EnvRepo = "BORGVAULT_REPO"
)

// SessionKind distinguishes remote SSH sessions from local administrative
// invocations.
type SessionKind int

const (
	// KindLocal is an invocation by an operator on the host itself.
	KindLocal SessionKind = iota

	// KindRemote is an SSH session forced into the gateway.
	KindRemote
)

// Session is the parsed identity of one remote session.
type Session struct {
	// ID is a per-session correlation token for logs.
	ID string

	// Tier is the capability tier of the matched key.
	Tier domain.CapabilityTier

	// PrincipalName is the principal the matched key belongs to. The value
	// comes from the artifact, not from the client.
	PrincipalName string

	// RepositoryName is the bound repository for repository keys, empty for
	// management keys.
	RepositoryName string

	// SourceAddr is the client address reported by the SSH server.
	SourceAddr string

	// Command is the client-supplied command line, empty for interactive
	// sessions.
	Command string
}

// Environ looks up session environment variables. The second return value
// reports presence, so empty and unset are distinguishable.
type Environ func(key string) (string, bool)

// MapEnviron adapts a plain map for tests.
func MapEnviron(m map[string]string) Environ {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Classify decides whether this invocation is a remote session or a local
// administrative one. The two marker variables must agree: a session with
// only one of them present is neither and gets rejected before anything else
// happens.
func Classify(env Environ) (SessionKind, error) {
	_, hasConn := env(EnvSSHConnection)
	_, hasKeyType := env(EnvKeyType)

	switch {
	case hasConn && hasKeyType:
		return KindRemote, nil
	case !hasConn && !hasKeyType:
		return KindLocal, nil
	case hasConn:
		return 0, domain.NewEnvironmentError(EnvKeyType,
			"SSH session without key type; the authorized keys artifact is stale or bypassed")
	default:
		return 0, domain.NewEnvironmentError(EnvSSHConnection,
			"key type set outside an SSH session")
	}
}

// ParseSession validates the environment of a remote session and extracts
// its identity. No ledger access happens here; a malformed environment is
// rejected on the environment alone.
func ParseSession(env Environ, serviceAccount string) (*Session, error) {
	logname, _ := env(EnvLogname)
	if logname != serviceAccount {
		return nil, domain.NewEnvironmentError(EnvLogname,
			"remote sessions must run as the service account "+serviceAccount)
	}

	principal, ok := env(EnvPrincipal)
	if !ok || principal == "" {
		return nil, domain.NewEnvironmentError(EnvPrincipal,
			"no principal bound to this key; the variable "+EnvPrincipal+" is missing")
	}

	keyType, _ := env(EnvKeyType)
	tier, err := domain.ParseCapabilityTier(keyType)
	if err != nil {
		return nil, domain.NewEnvironmentError(EnvKeyType, err.Error())
	}

	s := &Session{
		ID:            uuid.NewString(),
		Tier:          tier,
		PrincipalName: principal,
	}

	if repo, ok := env(EnvRepo); ok {
		if repo == "" {
			return nil, domain.NewEnvironmentError(EnvRepo, "repository binding is empty")
		}
		s.RepositoryName = repo
	}

	if conn, _ := env(EnvSSHConnection); conn != "" {
		s.SourceAddr = strings.Fields(conn)[0]
	}
	if cmd, ok := env(EnvOriginalCommand); ok {
		s.Command = strings.TrimSpace(cmd)
	}

	return s, nil
}
