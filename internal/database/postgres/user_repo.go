// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/luminauth/luminauth/internal/database"
	"github.com/luminauth/luminauth/internal/sched"
	"github.com/luminauth/luminauth/internal/user"
)

// DB is the subset of pgxpool.Pool used by the repository. pgxmock satisfies
// it for tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// userColumns is the shared column list for SELECT queries.
const userColumns = `uuid, premium_uuid, hashed_password, salt, algo, last_nickname,
	joined, last_seen, last_server, secret, ip, last_authentication, email`

// UserRepository implements user.Repository using PostgreSQL. Every query
// runs through the connector, which folds backend failures into the uniform
// connectivity error kind.
type UserRepository struct {
	connector *Connector
	guard     *sched.Guard
}

// NewUserRepository creates a UserRepository. Every method asserts it is not
// running on the primary execution context before touching the database.
func NewUserRepository(connector *Connector, guard *sched.Guard) *UserRepository {
	return &UserRepository{connector: connector, guard: guard}
}

// GetByUUID retrieves a user by its primary key.
func (r *UserRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByUUID")
	return r.getOne(ctx, "GetByUUID",
		`SELECT `+userColumns+` FROM users WHERE uuid = $1`, id.String())
}

// GetByPremiumUUID retrieves a user by its premium identity.
func (r *UserRepository) GetByPremiumUUID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByPremiumUUID")
	return r.getOne(ctx, "GetByPremiumUUID",
		`SELECT `+userColumns+` FROM users WHERE premium_uuid = $1`, id.String())
}

// GetByName retrieves a user by its last-seen nickname. Nicknames can be
// recycled, so this is a best-effort lookup, not a stable key.
func (r *UserRepository) GetByName(ctx context.Context, name string) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByName")
	return r.getOne(ctx, "GetByName",
		`SELECT `+userColumns+` FROM users WHERE last_nickname = $1`, name)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByEmail")
	return r.getOne(ctx, "GetByEmail",
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByIP retrieves all users last seen from the given address.
func (r *UserRepository) GetByIP(ctx context.Context, ip string) ([]*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByIP")
	return r.getMany(ctx,
		`SELECT `+userColumns+` FROM users WHERE ip = $1`, ip)
}

// GetAll retrieves every user record.
func (r *UserRepository) GetAll(ctx context.Context) ([]*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetAll")
	return r.getMany(ctx, `SELECT `+userColumns+` FROM users`)
}

// Insert stores a new user.
func (r *UserRepository) Insert(ctx context.Context, u *user.User) error {
	r.guard.AssertOffPrimary(ctx, "Insert")
	args := insertArgs(u)
	return r.connector.RunQuery(ctx, func(ctx context.Context, db DB) error {
		_, err := db.Exec(ctx, `
			INSERT INTO users (
				uuid, premium_uuid, hashed_password, salt, algo, last_nickname,
				joined, last_seen, last_server, secret, ip, last_authentication, email
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, args...)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("DB_DUPLICATE").
				With("uuid", u.UUID.String()).
				Wrap(database.ErrDuplicate)
		}
		return err
	})
}

// InsertAll stores users one at a time and surfaces the first failure.
// Records inserted before the failure remain; there is no atomicity across
// the batch.
func (r *UserRepository) InsertAll(ctx context.Context, users []*user.User) error {
	r.guard.AssertOffPrimary(ctx, "InsertAll")
	for _, u := range users {
		if err := r.Insert(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces the whole record identified by uuid. Concurrent updates
// are last-writer-wins; there is no version check.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	r.guard.AssertOffPrimary(ctx, "Update")
	args := insertArgs(u)
	return r.connector.RunQuery(ctx, func(ctx context.Context, db DB) error {
		tag, err := db.Exec(ctx, `
			UPDATE users SET
				premium_uuid = $2, hashed_password = $3, salt = $4, algo = $5,
				last_nickname = $6, joined = $7, last_seen = $8, last_server = $9,
				secret = $10, ip = $11, last_authentication = $12, email = $13
			WHERE uuid = $1
		`, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return oops.Code("DB_USER_NOT_FOUND").
				With("uuid", u.UUID.String()).
				Wrap(user.ErrNotFound)
		}
		return nil
	})
}

// Delete removes the record identified by uuid.
func (r *UserRepository) Delete(ctx context.Context, u *user.User) error {
	r.guard.AssertOffPrimary(ctx, "Delete")
	return r.connector.RunQuery(ctx, func(ctx context.Context, db DB) error {
		tag, err := db.Exec(ctx, `DELETE FROM users WHERE uuid = $1`, u.UUID.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return oops.Code("DB_USER_NOT_FOUND").
				With("uuid", u.UUID.String()).
				Wrap(user.ErrNotFound)
		}
		return nil
	})
}

func (r *UserRepository) getOne(ctx context.Context, op, sql string, args ...any) (*user.User, error) {
	var u *user.User
	err := r.connector.RunQuery(ctx, func(ctx context.Context, db DB) error {
		var err error
		u, err = scanUser(db.QueryRow(ctx, sql, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("DB_USER_NOT_FOUND").
				With("operation", op).
				Wrap(user.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) getMany(ctx context.Context, sql string, args ...any) ([]*user.User, error) {
	var users []*user.User
	err := r.connector.RunQuery(ctx, func(ctx context.Context, db DB) error {
		rows, err := db.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// insertArgs flattens a user into the column order shared by Insert and
// Update. The credential triple is exploded so all-null survives intact.
func insertArgs(u *user.User) []any {
	var premium *string
	if u.PremiumUUID != nil {
		s := u.PremiumUUID.String()
		premium = &s
	}

	var hash, salt, algo *string
	if u.HashedPassword != nil {
		hash = &u.HashedPassword.Hash
		salt = &u.HashedPassword.Salt
		algo = &u.HashedPassword.Algorithm
	}

	return []any{
		u.UUID.String(), premium, hash, salt, algo, u.LastNickname,
		u.JoinDate, u.LastSeen, u.LastServer, u.Secret, u.IP,
		u.LastAuthentication, u.Email,
	}
}

// scanUser scans a single row into a User. Callers handle pgx.ErrNoRows.
func scanUser(row pgx.Row) (*user.User, error) {
	var (
		idStr            string
		premiumStr       *string
		hash, salt, algo *string
		lastNickname     string
		joined           *time.Time
		lastSeen         *time.Time
		lastServer       *string
		secret           *string
		ip               *string
		lastAuth         *time.Time
		email            *string
	)

	// Scan failures surface raw so the connector folds them into the
	// connectivity kind; callers special-case pgx.ErrNoRows.
	err := row.Scan(&idStr, &premiumStr, &hash, &salt, &algo, &lastNickname,
		&joined, &lastSeen, &lastServer, &secret, &ip, &lastAuth, &email)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("DB_INVALID_UUID").With("uuid", idStr).Wrap(err)
	}

	u := &user.User{
		UUID:               id,
		LastNickname:       lastNickname,
		JoinDate:           joined,
		LastSeen:           lastSeen,
		LastServer:         lastServer,
		Secret:             secret,
		IP:                 ip,
		LastAuthentication: lastAuth,
		Email:              email,
	}

	if premiumStr != nil {
		premium, err := uuid.Parse(*premiumStr)
		if err != nil {
			return nil, oops.Code("DB_INVALID_UUID").With("premium_uuid", *premiumStr).Wrap(err)
		}
		u.PremiumUUID = &premium
	}

	if hash != nil {
		u.HashedPassword = &user.HashedPassword{
			Hash:      *hash,
			Salt:      deref(salt),
			Algorithm: deref(algo),
		}
	}

	return u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
