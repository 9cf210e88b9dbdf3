package domain

import (
	"fmt"
	"strconv"
)

// CapabilityTier is the permission class of a session, derived from which
// SSH key the outer SSH server matched. The authorized-principals artifact
// bakes the tier into the session environment, so the value arriving here is
// trusted exactly as far as the artifact is.
type CapabilityTier int

const (
	// TierPrincipal is the principal's current management key. Grants the
	// interactive shell.
	TierPrincipal CapabilityTier = 1

	// TierPrincipalPending is the previous management key kept during key
	// rotation. Grants the interactive shell with a retirement warning.
	TierPrincipalPending CapabilityTier = 2

	// TierRepoAppend is a repository append-only key. Grants append-only
	// serve sessions for the bound repository, nothing else.
	TierRepoAppend CapabilityTier = 3

	// TierRepoReadWrite is a repository read/write key. Grants serve
	// sessions with full access to the bound repository.
	TierRepoReadWrite CapabilityTier = 4

	// TierAdminImpersonate marks a local administrative session acting as
	// another principal.
	TierAdminImpersonate CapabilityTier = 5
)

var tierNames = map[CapabilityTier]string{
	TierPrincipal:        "PRINCIPAL",
	TierPrincipalPending: "PRINCIPAL_PENDING",
	TierRepoAppend:       "REPO_APPEND",
	TierRepoReadWrite:    "REPO_RW",
	TierAdminImpersonate: "ADMIN_IMPERSONATE",
}

// String returns the stable uppercase name of the tier.
func (t CapabilityTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TIER(%d)", int(t))
}

// ParseCapabilityTier decodes the tier from its env-variable encoding.
func ParseCapabilityTier(s string) (CapabilityTier, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("capability tier is not an integer: %q", s)
	}
	t := CapabilityTier(v)
	if _, ok := tierNames[t]; !ok {
		return 0, fmt.Errorf("unknown capability tier %d", v)
	}
	return t, nil
}

// Encode returns the env-variable encoding of the tier.
func (t CapabilityTier) Encode() string {
	return strconv.Itoa(int(t))
}

// AllowsShell reports whether the tier permits the interactive shell.
func (t CapabilityTier) AllowsShell() bool {
	switch t {
	case TierPrincipal, TierPrincipalPending, TierAdminImpersonate:
		return true
	}
	return false
}

// AllowsServe reports whether the tier permits a serve session at all.
func (t CapabilityTier) AllowsServe() bool {
	return t == TierRepoAppend || t == TierRepoReadWrite
}

// AppendOnly reports whether serve sessions under this tier must be
// restricted to append-only operation.
func (t CapabilityTier) AppendOnly() bool {
	return t == TierRepoAppend
}
