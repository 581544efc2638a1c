// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package user defines the canonical authentication record and its
// persistence contract.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// HashedPassword is the stored credential triple. Algorithm names the
// registered hashing scheme the hash was produced with; Salt is hex-encoded.
type HashedPassword struct {
	Hash      string
	Salt      string
	Algorithm string
}

// User is the canonical authentication record. UUID is the immutable primary
// key. PremiumUUID is the externally verified account identity; a nil value
// means the account is offline-mode. Optional fields are pointers so that
// absence survives a storage round trip unchanged.
type User struct {
	UUID               uuid.UUID
	PremiumUUID        *uuid.UUID
	HashedPassword     *HashedPassword
	LastNickname       string
	JoinDate           *time.Time
	LastSeen           *time.Time
	Secret             *string
	IP                 *string
	LastAuthentication *time.Time
	LastServer         *string
	Email              *string
}

// Authenticatable reports whether the record can be authenticated at all.
// A record with neither a password nor a premium link is invalid.
func (u *User) Authenticatable() bool {
	return u.HashedPassword != nil || u.PremiumUUID != nil
}

// PremiumLinked reports whether the account is bound to an externally
// verified identity.
func (u *User) PremiumLinked() bool {
	return u.PremiumUUID != nil
}

// TOTPEnabled reports whether a second factor secret is set.
func (u *User) TOTPEnabled() bool {
	return u.Secret != nil
}

// Touch records a successful authentication: last-seen, last-authentication,
// origin IP and destination server. Timestamps are monotonic non-decreasing
// over the record's life.
func (u *User) Touch(now time.Time, ip, server string) {
	t := now
	u.LastSeen = &t
	u.LastAuthentication = &t
	u.IP = &ip
	u.LastServer = &server
}

// Repository manages user persistence. One implementation exists per storage
// backend; all of them obey the same contract:
//
//   - Single-record lookups return ErrNotFound (wrapped) on absence.
//   - GetByIP returns zero or more records; IP is not unique.
//   - Update replaces the whole record identified by UUID. It is not a
//     partial patch, and concurrent updates are last-writer-wins.
//   - InsertAll applies inserts one at a time and surfaces the first
//     failure; records inserted before the failure remain.
type Repository interface {
	GetByUUID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPremiumUUID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByIP(ctx context.Context, ip string) ([]*User, error)
	GetAll(ctx context.Context) ([]*User, error)

	Insert(ctx context.Context, u *User) error
	InsertAll(ctx context.Context, users []*User) error
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, u *User) error
}
