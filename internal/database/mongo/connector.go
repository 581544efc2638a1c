// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package mongo implements the document storage backend over the official
// MongoDB driver.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/luminauth/luminauth/internal/config"
	"github.com/luminauth/luminauth/internal/database"
)

// collectionName is the single collection holding all user documents.
const collectionName = "users"

const connectAttempts = 5

// Connector manages a mongo client. It holds exactly one live client;
// Connect must not be called twice without an intervening Disconnect.
type Connector struct {
	uri    string
	dbName string
	client *mongo.Client
}

// NewConnector builds a Connector from the mongo configuration keys.
func NewConnector(cfg *config.Config) *Connector {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d",
		cfg.String(config.KeyMongoUser),
		cfg.String(config.KeyMongoPassword),
		cfg.String(config.KeyMongoHost),
		cfg.Int(config.KeyMongoPort),
	)
	return &Connector{uri: uri, dbName: cfg.String(config.KeyMongoName)}
}

// NewConnectorURI builds a Connector from a raw connection string.
func NewConnectorURI(uri, dbName string) *Connector {
	return &Connector{uri: uri, dbName: dbName}
}

// Connect establishes the client and verifies it with a ping, retrying with
// fibonacci backoff while the database comes up.
func (c *Connector) Connect(ctx context.Context) error {
	backoff := retry.WithMaxRetries(connectAttempts, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.uri))
		if err != nil {
			return err
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx) //nolint:errcheck // ping failure takes precedence
			return retry.RetryableError(err)
		}
		c.client = client
		return nil
	})
	if err != nil {
		return database.WrapConnectivity("mongo", err)
	}
	return nil
}

// Disconnect releases the client.
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	if err != nil {
		return database.WrapConnectivity("mongo", err)
	}
	return nil
}

// ObtainInterface returns the live users collection.
func (c *Connector) ObtainInterface() (*mongo.Collection, error) {
	if c.client == nil {
		return nil, oops.Code("DB_NOT_CONNECTED").
			Errorf("mongo connector is not connected")
	}
	return c.client.Database(c.dbName).Collection(collectionName), nil
}

// RunQuery executes fn against a freshly obtained collection handle, folding
// every failure into the uniform connectivity error kind.
func (c *Connector) RunQuery(ctx context.Context, fn func(ctx context.Context, coll *mongo.Collection) error) error {
	coll, err := c.ObtainInterface()
	if err != nil {
		return database.WrapConnectivity("mongo", err)
	}
	if err := fn(ctx, coll); err != nil {
		return database.Fold("mongo", err)
	}
	return nil
}
