// Package authutil provides the opaque auth collaborators §6 assumes the
// core can call but never implements itself: password hashing and
// refresh-token issuance. Nothing in this package is part of the core
// (§1 "Out of scope"); it exists so the transport has a real, runnable
// implementation to hand to the store for user signup and login.
package authutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tapwave/typingarena/internal/model"
)

// PasswordHasher is the collaborator interface §6 calls "hashPassword,
// verifyPassword".
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt at the default cost.
type BcryptHasher struct{}

func (BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("authutil: hash password: %w", err)
	}
	return string(b), nil
}

func (BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RefreshTokenIssuer is the issuing half of the refresh-token collaborator
// of §6; it covers issuance only, and rotation and revocation are not part
// of this interface. The core only persists the RefreshToken record this
// issuer produces; it never inspects or decodes the opaque token itself.
type RefreshTokenIssuer interface {
	Issue(userID string, now time.Time, ttl time.Duration) (plaintext string, record model.RefreshToken, err error)
}

// RandomTokenIssuer issues opaque, random-bytes refresh tokens and stores
// only their bcrypt hash, so a stolen database dump does not hand out
// usable tokens.
type RandomTokenIssuer struct{}

func (RandomTokenIssuer) Issue(userID string, now time.Time, ttl time.Duration) (string, model.RefreshToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("authutil: generate refresh token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("authutil: hash refresh token: %w", err)
	}

	record := model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: string(hash),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	return plaintext, record, nil
}
