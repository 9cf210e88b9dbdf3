package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testKeyOne = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEB laptop"
	testKeyTwo = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAICAgICAgICAgICAgICAgICAgICAgICAgICAgICAgIC desktop"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "alice", nil},
		{"digits and underscore", "backup_host_01", nil},
		{"max length", strings.Repeat("a", MaxNameLength), nil},
		{"empty", "", ErrNameLength},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrNameLength},
		{"dash", "my-repo", ErrNameFormat},
		{"slash", "a/b", ErrNameFormat},
		{"space", "a b", ErrNameFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCapabilityTierCodec(t *testing.T) {
	for _, tier := range []CapabilityTier{
		TierPrincipal, TierPrincipalPending, TierRepoAppend, TierRepoReadWrite, TierAdminImpersonate,
	} {
		decoded, err := ParseCapabilityTier(tier.Encode())
		require.NoError(t, err)
		require.Equal(t, tier, decoded)
	}

	_, err := ParseCapabilityTier("0")
	require.Error(t, err)
	_, err = ParseCapabilityTier("6")
	require.Error(t, err)
	_, err = ParseCapabilityTier("shell")
	require.Error(t, err)
}

func TestCapabilityTierPermissions(t *testing.T) {
	require.True(t, TierPrincipal.AllowsShell())
	require.True(t, TierPrincipalPending.AllowsShell())
	require.True(t, TierAdminImpersonate.AllowsShell())
	require.False(t, TierRepoAppend.AllowsShell())
	require.False(t, TierRepoReadWrite.AllowsShell())

	require.True(t, TierRepoAppend.AllowsServe())
	require.True(t, TierRepoReadWrite.AllowsServe())
	require.False(t, TierPrincipal.AllowsServe())

	require.True(t, TierRepoAppend.AppendOnly())
	require.False(t, TierRepoReadWrite.AppendOnly())
}

func TestParseSSHKey(t *testing.T) {
	key, err := ParseSSHKey(testKeyOne)
	require.NoError(t, err)
	require.Equal(t, "laptop", key.Comment())
	require.Equal(t, "ssh-ed25519", key.Type())
	require.True(t, strings.HasPrefix(key.Fingerprint(), "SHA256:"))

	// Rendering is canonical, so the line round-trips.
	require.Equal(t, testKeyOne, key.Line())
}

func TestParseSSHKeyRejectsBadInput(t *testing.T) {
	_, err := ParseSSHKey("not a key at all")
	require.ErrorIs(t, err, ErrKeyInvalid)

	// A key without a comment has no user-facing name.
	withoutComment := strings.Join(strings.Fields(testKeyOne)[:2], " ")
	_, err = ParseSSHKey(withoutComment)
	require.ErrorIs(t, err, ErrKeyInvalid)
}

func TestSSHKeyEqualIgnoresComment(t *testing.T) {
	a, err := ParseSSHKey(testKeyOne)
	require.NoError(t, err)
	renamed, err := ParseSSHKey(strings.Replace(testKeyOne, "laptop", "workstation", 1))
	require.NoError(t, err)
	b, err := ParseSSHKey(testKeyTwo)
	require.NoError(t, err)

	require.True(t, a.Equal(renamed))
	require.False(t, a.Equal(b))
	require.False(t, a.Equal(nil))

	var nilKey *SSHKey
	require.True(t, nilKey.Equal(nil))
}

func TestOperationCodec(t *testing.T) {
	op, err := OperationFromInt(int(OpServeModifySuccess))
	require.NoError(t, err)
	require.Equal(t, OpServeModifySuccess, op)
	require.Equal(t, "SERVE_MODIFY_SUCCESS", op.String())

	_, err = OperationFromInt(99)
	require.Error(t, err)
}

func TestQuotaViolationErrorNamesBoundary(t *testing.T) {
	tooSmall := NewQuotaTooSmall(10, 500)
	require.ErrorIs(t, tooSmall, ErrQuotaViolation)
	require.Contains(t, tooSmall.Error(), "minimum permissible quota is 500")

	tooLarge := NewQuotaTooLarge(9000, 600)
	require.ErrorIs(t, tooLarge, ErrQuotaViolation)
	require.Contains(t, tooLarge.Error(), "maximum permissible quota is 600")
}
