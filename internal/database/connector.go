// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package database defines the backend-agnostic connector contract shared by
// the relational and document storage engines.
package database

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// ErrConnectivity is the uniform failure kind for backend connection and
// query errors. Driver-native error types never cross the connector boundary;
// callers match with errors.Is against this sentinel.
var ErrConnectivity = errors.New("database connectivity failure")

// ErrDuplicate is returned when an insert collides with an existing primary
// key. The storage layer only guards the uuid key; email and premium-uuid
// uniqueness is the authorization layer's pre-check responsibility.
var ErrDuplicate = errors.New("duplicate record")

// WrapConnectivity folds a driver-native failure into the uniform kind.
func WrapConnectivity(backend string, err error) error {
	return oops.Code("DB_CONNECTIVITY").
		With("backend", backend).
		Wrap(errors.Join(ErrConnectivity, err))
}

// Fold returns err unchanged when it already carries a classification code
// (not-found, duplicate), otherwise folds it into the uniform connectivity
// kind. This keeps absence and invariant violations distinct from a dead
// backend while still hiding driver-native error types.
func Fold(backend string, err error) error {
	var coded oops.OopsError
	if errors.As(err, &coded) && coded.Code() != "" {
		return err
	}
	return WrapConnectivity(backend, err)
}

// Connector manages the lifecycle of a single backend client and executes
// queries against it. H is the backend's live query handle (a pgx pool, a
// mongo collection).
//
// Connect is not idempotent: calling it twice without an intervening
// Disconnect leaks the prior session. The live handle is shared across all
// worker-context callers; concurrent RunQuery safety relies on the underlying
// driver being safe for concurrent handle use.
type Connector[H any] interface {
	// Connect establishes the backend session.
	Connect(ctx context.Context) error

	// Disconnect releases the backend session.
	Disconnect(ctx context.Context) error

	// ObtainInterface returns the live query handle, or an error when the
	// connector is not connected.
	ObtainInterface() (H, error)

	// RunQuery executes fn against a freshly obtained handle. Any failure,
	// from the handle acquisition or from fn, surfaces as an
	// ErrConnectivity-wrapped error regardless of backend.
	RunQuery(ctx context.Context, fn func(ctx context.Context, handle H) error) error
}
