// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package crypto provides password hashing for stored credentials.
//
// Credentials are stored as a {hash, salt, algorithm} triple so that records
// hashed under an older registered algorithm keep verifying after the default
// changes. Verification always dispatches on the record's algorithm, never on
// the hasher's default.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"

	"github.com/luminauth/luminauth/internal/user"
)

// Registered algorithm names as they appear in stored records.
const (
	AlgorithmSHA256   = "SHA-256"
	AlgorithmSHA512   = "SHA-512"
	AlgorithmArgon2ID = "Argon-2ID"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
)

const saltLen = 16

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("CRYPTO_EMPTY_PASSWORD").Errorf("password cannot be empty")

// Hasher produces and verifies stored credential triples.
type Hasher interface {
	// Hash produces a credential triple under the hasher's default algorithm.
	Hash(password string) (user.HashedPassword, error)

	// Verify checks the password against a stored triple using the triple's
	// own algorithm and salt. Returns (true, nil) on match, (false, nil) on
	// mismatch, or an error for an unknown algorithm or corrupt record.
	Verify(password string, hp user.HashedPassword) (bool, error)

	// NeedsUpgrade reports whether the triple was produced under a weaker
	// algorithm than the hasher's default.
	NeedsUpgrade(hp user.HashedPassword) bool
}

// DefaultHasher verifies every registered algorithm and hashes new
// credentials with argon2id.
type DefaultHasher struct{}

// NewDefaultHasher creates a DefaultHasher.
func NewDefaultHasher() *DefaultHasher {
	return &DefaultHasher{}
}

// Hash produces an argon2id credential triple with a fresh random salt.
func (h *DefaultHasher) Hash(password string) (user.HashedPassword, error) {
	if password == "" {
		return user.HashedPassword{}, ErrEmptyPassword
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return user.HashedPassword{}, oops.Code("CRYPTO_SALT_FAILED").Wrap(err)
	}

	sum := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return user.HashedPassword{
		Hash:      hex.EncodeToString(sum),
		Salt:      hex.EncodeToString(salt),
		Algorithm: AlgorithmArgon2ID,
	}, nil
}

// Verify recomputes the hash with the stored salt and algorithm and compares
// in constant time.
func (h *DefaultHasher) Verify(password string, hp user.HashedPassword) (bool, error) {
	salt, err := hex.DecodeString(hp.Salt)
	if err != nil {
		return false, oops.Code("CRYPTO_INVALID_SALT").Wrap(err)
	}
	stored, err := hex.DecodeString(hp.Hash)
	if err != nil {
		return false, oops.Code("CRYPTO_INVALID_HASH").Wrap(err)
	}

	var computed []byte
	switch hp.Algorithm {
	case AlgorithmSHA256:
		sum := sha256.Sum256(append([]byte(password), salt...))
		computed = sum[:]
	case AlgorithmSHA512:
		sum := sha512.Sum512(append([]byte(password), salt...))
		computed = sum[:]
	case AlgorithmArgon2ID:
		keyLen := len(stored)
		if keyLen <= 0 || keyLen > 1<<30 {
			return false, oops.Code("CRYPTO_INVALID_HASH").
				Errorf("invalid hash length: %d", keyLen)
		}
		computed = argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(keyLen))
	default:
		return false, oops.Code("CRYPTO_UNKNOWN_ALGORITHM").
			With("algorithm", hp.Algorithm).
			Errorf("unknown hashing algorithm: %s", hp.Algorithm)
	}

	return subtle.ConstantTimeCompare(computed, stored) == 1, nil
}

// NeedsUpgrade reports whether the triple should be re-hashed with argon2id.
func (h *DefaultHasher) NeedsUpgrade(hp user.HashedPassword) bool {
	return hp.Algorithm != AlgorithmArgon2ID
}
