package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"licsrv/internal/config"
)

// Authorizer decides whether a presented admin secret is valid.
type Authorizer interface {
	Authorize(secret string) bool
}

// SecretAuthorizer checks the single shared admin secret. It holds either the
// SHA-256 digest of a plaintext secret or a bcrypt hash.
type SecretAuthorizer struct {
	digest []byte
	hash   []byte
}

// NewSecretAuthorizer builds an authorizer from the admin config. Exactly one
// of Secret and SecretHash must be set.
func NewSecretAuthorizer(cfg config.AdminConfig) (*SecretAuthorizer, error) {
	switch {
	case cfg.Secret != "" && cfg.SecretHash != "":
		return nil, errors.New("admin secret and secret hash are mutually exclusive")
	case cfg.SecretHash != "":
		hash := []byte(cfg.SecretHash)
		if _, err := bcrypt.Cost(hash); err != nil {
			return nil, fmt.Errorf("invalid admin secret hash: %w", err)
		}
		return &SecretAuthorizer{hash: hash}, nil
	case cfg.Secret != "":
		sum := sha256.Sum256([]byte(cfg.Secret))
		return &SecretAuthorizer{digest: sum[:]}, nil
	default:
		return nil, errors.New("admin secret is not configured")
	}
}

// Authorize reports whether secret matches. Plain secrets are compared as
// digests so the comparison time does not depend on the input length.
func (a *SecretAuthorizer) Authorize(secret string) bool {
	if secret == "" {
		return false
	}
	if a.hash != nil {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(secret)) == nil
	}
	sum := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(a.digest, sum[:]) == 1
}

// HashSecret returns a bcrypt hash suitable for LICSRV_ADMIN_SECRET_HASH.
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash admin secret: %w", err)
	}
	return string(hash), nil
}
