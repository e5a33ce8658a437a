package sovereign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"main/pkg/exception"
)

// Authenticator verifies operator credentials. PSK comparison is
// constant time; critical commands additionally carry an HMAC-SHA256
// attestation binding the command identity, type, payload, and issue
// time.
type Authenticator struct {
	psk        []byte
	signingKey []byte
}

// NewAuthenticator builds an authenticator from the pre-shared key and
// the attestation signing key. Keys come from the environment, never
// from config files.
func NewAuthenticator(psk, signingKey string) *Authenticator {
	return &Authenticator{psk: []byte(psk), signingKey: []byte(signingKey)}
}

// Verify checks the command's credentials.
func (a *Authenticator) Verify(cmd Command) error {
	if len(a.psk) == 0 {
		return exception.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(cmd.Key), a.psk) != 1 {
		return exception.ErrUnauthorized
	}
	if !cmd.Type.known() {
		return exception.ErrUnknownCommand
	}
	if cmd.Type.critical() {
		want := a.Attest(cmd)
		if subtle.ConstantTimeCompare([]byte(cmd.Signature), []byte(want)) != 1 {
			return exception.ErrBadAttestation
		}
	}
	return nil
}

// KeyOK reports whether a bare pre-shared key is valid. Used by
// operator surfaces that gate non-command endpoints.
func (a *Authenticator) KeyOK(key string) bool {
	if len(a.psk) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), a.psk) == 1
}

// Attest computes the attestation signature for a command. Operator
// tooling calls this with the shared signing key before submitting a
// critical command.
func (a *Authenticator) Attest(cmd Command) string {
	mac := hmac.New(sha256.New, a.signingKey)
	fmt.Fprintf(mac, "%s|%s|%s|%s|%d", cmd.ID, cmd.Type, cmd.Payload, cmd.UserID, cmd.IssuedAtUs)
	return hex.EncodeToString(mac.Sum(nil))
}
