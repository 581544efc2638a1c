// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package mongo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/luminauth/luminauth/internal/database"
	"github.com/luminauth/luminauth/internal/sched"
	"github.com/luminauth/luminauth/internal/user"
)

// UserRepository implements user.Repository using MongoDB. All queries go
// through the connector so driver-native failures never cross the boundary.
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
	return r.findOne(ctx, bson.M{fieldUUID: id.String()})
}

// GetByPremiumUUID retrieves a user by its premium identity.
func (r *UserRepository) GetByPremiumUUID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByPremiumUUID")
	return r.findOne(ctx, bson.M{fieldPremiumUUID: id.String()})
}

// GetByName retrieves a user by its last-seen nickname.
func (r *UserRepository) GetByName(ctx context.Context, name string) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByName")
	return r.findOne(ctx, bson.M{fieldNickname: name})
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByEmail")
	return r.findOne(ctx, bson.M{fieldEmail: email})
}

// GetByIP retrieves all users last seen from the given address.
func (r *UserRepository) GetByIP(ctx context.Context, ip string) ([]*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetByIP")
	return r.findMany(ctx, bson.M{fieldIP: ip})
}

// GetAll retrieves every user document.
func (r *UserRepository) GetAll(ctx context.Context) ([]*user.User, error) {
	r.guard.AssertOffPrimary(ctx, "GetAll")
	return r.findMany(ctx, bson.M{})
}

// Insert stores a new user document.
func (r *UserRepository) Insert(ctx context.Context, u *user.User) error {
	r.guard.AssertOffPrimary(ctx, "Insert")
	return r.connector.RunQuery(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		_, err := coll.InsertOne(ctx, encodeUser(u))
		if mongo.IsDuplicateKeyError(err) {
			return oops.Code("DB_DUPLICATE").
				With("uuid", u.UUID.String()).
				Wrap(database.ErrDuplicate)
		}
		return err
	})
}

// InsertAll stores users one at a time and surfaces the first failure.
// Documents inserted before the failure remain.
func (r *UserRepository) InsertAll(ctx context.Context, users []*user.User) error {
	r.guard.AssertOffPrimary(ctx, "InsertAll")
	for _, u := range users {
		if err := r.Insert(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces the whole document identified by uuid, last-writer-wins.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	r.guard.AssertOffPrimary(ctx, "Update")
	return r.connector.RunQuery(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		res, err := coll.ReplaceOne(ctx, bson.M{fieldUUID: u.UUID.String()}, encodeUser(u))
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return oops.Code("DB_USER_NOT_FOUND").
				With("uuid", u.UUID.String()).
				Wrap(user.ErrNotFound)
		}
		return nil
	})
}

// Delete removes the document identified by uuid.
func (r *UserRepository) Delete(ctx context.Context, u *user.User) error {
	r.guard.AssertOffPrimary(ctx, "Delete")
	return r.connector.RunQuery(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		res, err := coll.DeleteOne(ctx, bson.M{fieldUUID: u.UUID.String()})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return oops.Code("DB_USER_NOT_FOUND").
				With("uuid", u.UUID.String()).
				Wrap(user.ErrNotFound)
		}
		return nil
	})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*user.User, error) {
	var found *user.User
	err := r.connector.RunQuery(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		var doc bson.M
		if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return oops.Code("DB_USER_NOT_FOUND").Wrap(user.ErrNotFound)
			}
			return err
		}
		u, err := decodeUser(doc)
		if err != nil {
			return err
		}
		found = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *UserRepository) findMany(ctx context.Context, filter bson.M) ([]*user.User, error) {
	var users []*user.User
	err := r.connector.RunQuery(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		cursor, err := coll.Find(ctx, filter)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx) //nolint:errcheck // read-only cursor

		for cursor.Next(ctx) {
			var doc bson.M
			if err := cursor.Decode(&doc); err != nil {
				return err
			}
			u, err := decodeUser(doc)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
