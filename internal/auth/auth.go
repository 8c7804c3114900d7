// Package auth implements the broker's entire authentication model: a single
// static shared secret presented in the join handshake.
package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Verifier interface {
	Verify(secret string) error
}

// SecretVerifier accepts exactly one configured secret. An empty expected
// secret disables authentication entirely (dev mode).
type SecretVerifier struct {
	Expected string
}

func (v SecretVerifier) Verify(secret string) error {
	if v.Expected == "" {
		return nil
	}
	if secret == "" {
		return ErrMissingCredentials
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
