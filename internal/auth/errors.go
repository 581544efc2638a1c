// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package auth

import "errors"

// Validation failure sentinels. Each maps to a user-attributable reason; the
// provider wraps them with oops codes and context at the return site. None
// of them implies any state mutation occurred.
var (
	// ErrNotPremium is returned when an e-mail operation targets an account
	// without a premium link.
	ErrNotPremium = errors.New("account is not premium-linked")

	// ErrEmailTaken is returned when the requested address already belongs
	// to another account.
	ErrEmailTaken = errors.New("e-mail address already in use")

	// ErrThrottled is returned when the per-identity cooldown window has not
	// elapsed.
	ErrThrottled = errors.New("action is rate limited")

	// ErrMailNotAllowed is returned when the address fails the allow policy.
	ErrMailNotAllowed = errors.New("e-mail address is not allowed")

	// ErrMailNotSent is returned when the verification mail could not be
	// dispatched. The pending cache entry is kept.
	ErrMailNotSent = errors.New("verification mail could not be sent")

	// ErrTokenInvalid is returned when a presented token does not match the
	// pending entry.
	ErrTokenInvalid = errors.New("invalid confirmation token")

	// ErrTokenExpired is returned when no unexpired pending entry exists.
	ErrTokenExpired = errors.New("confirmation token expired or never issued")

	// ErrPremiumTaken is returned when another account already holds the
	// premium identity.
	ErrPremiumTaken = errors.New("premium identity already linked to another account")

	// ErrNoPassword is returned when an operation requires a stored password
	// the account does not have.
	ErrNoPassword = errors.New("account has no password set")

	// ErrAlreadyRegistered is returned when a registration targets an
	// existing record.
	ErrAlreadyRegistered = errors.New("account already registered")
)
