package domain

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// SSHKey is a parsed public key in authorized_keys format. The comment is
// mandatory: it is the only handle users have to tell their keys apart in
// the shell, and it ends up in the generated authorized-principals artifact.
type SSHKey struct {
	key     ssh.PublicKey
	comment string
}

// ParseSSHKey parses a single authorized_keys line.
func ParseSSHKey(line string) (*SSHKey, error) {
	key, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(line)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	if comment == "" {
		return nil, fmt.Errorf("%w: key has no comment; please name your key", ErrKeyInvalid)
	}
	return &SSHKey{key: key, comment: comment}, nil
}

// Comment returns the key comment (its user-facing name).
func (k *SSHKey) Comment() string {
	return k.comment
}

// Type returns the key algorithm name, e.g. "ssh-ed25519".
func (k *SSHKey) Type() string {
	return k.key.Type()
}

// Fingerprint returns the SHA256 fingerprint of the key.
func (k *SSHKey) Fingerprint() string {
	return ssh.FingerprintSHA256(k.key)
}

// Line renders the key back to canonical authorized_keys format, comment
// included. Two keys with the same material render identically, which keeps
// artifact regeneration deterministic.
func (k *SSHKey) Line() string {
	marshaled := strings.TrimRight(string(ssh.MarshalAuthorizedKey(k.key)), "\n")
	return marshaled + " " + k.comment
}

// Equal reports whether both keys carry the same key material.
// Comments are ignored.
func (k *SSHKey) Equal(other *SSHKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.Fingerprint() == other.Fingerprint()
}
