// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package mongo

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/luminauth/luminauth/internal/user"
)

// Document field names. Timestamps are stored as epoch milliseconds; absent
// optional fields are stored as explicit nulls so the round trip through
// either representation is identical.
const (
	fieldUUID        = "uuid"
	fieldPremiumUUID = "premium_uuid"
	fieldHash        = "hashed_password"
	fieldSalt        = "salt"
	fieldAlgo        = "algo"
	fieldNickname    = "last_nickname"
	fieldJoined      = "joined"
	fieldLastSeen    = "last_seen"
	fieldLastServer  = "last_server"
	fieldSecret      = "secret"
	fieldIP          = "ip"
	fieldLastAuth    = "last_authentication"
	fieldEmail       = "email"
)

// encodeUser flattens a user into its document representation.
func encodeUser(u *user.User) bson.M {
	doc := bson.M{
		fieldUUID:        u.UUID.String(),
		fieldPremiumUUID: nil,
		fieldHash:        nil,
		fieldSalt:        nil,
		fieldAlgo:        nil,
		fieldNickname:    u.LastNickname,
		fieldJoined:      encodeTime(u.JoinDate),
		fieldLastSeen:    encodeTime(u.LastSeen),
		fieldLastServer:  encodeString(u.LastServer),
		fieldSecret:      encodeString(u.Secret),
		fieldIP:          encodeString(u.IP),
		fieldLastAuth:    encodeTime(u.LastAuthentication),
		fieldEmail:       encodeString(u.Email),
	}
	if u.PremiumUUID != nil {
		doc[fieldPremiumUUID] = u.PremiumUUID.String()
	}
	if u.HashedPassword != nil {
		doc[fieldHash] = u.HashedPassword.Hash
		doc[fieldSalt] = u.HashedPassword.Salt
		doc[fieldAlgo] = u.HashedPassword.Algorithm
	}
	return doc
}

// decodeUser rebuilds a user from its document representation.
func decodeUser(doc bson.M) (*user.User, error) {
	idStr, ok := doc[fieldUUID].(string)
	if !ok {
		return nil, oops.Code("DB_INVALID_DOCUMENT").
			Errorf("document is missing the uuid field")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("DB_INVALID_UUID").With("uuid", idStr).Wrap(err)
	}

	u := &user.User{
		UUID:               id,
		LastNickname:       stringField(doc, fieldNickname),
		JoinDate:           decodeTime(doc, fieldJoined),
		LastSeen:           decodeTime(doc, fieldLastSeen),
		LastServer:         decodeString(doc, fieldLastServer),
		Secret:             decodeString(doc, fieldSecret),
		IP:                 decodeString(doc, fieldIP),
		LastAuthentication: decodeTime(doc, fieldLastAuth),
		Email:              decodeString(doc, fieldEmail),
	}

	if premiumStr := decodeString(doc, fieldPremiumUUID); premiumStr != nil {
		premium, err := uuid.Parse(*premiumStr)
		if err != nil {
			return nil, oops.Code("DB_INVALID_UUID").
				With("premium_uuid", *premiumStr).
				Wrap(err)
		}
		u.PremiumUUID = &premium
	}

	if hash := decodeString(doc, fieldHash); hash != nil {
		u.HashedPassword = &user.HashedPassword{
			Hash:      *hash,
			Salt:      stringField(doc, fieldSalt),
			Algorithm: stringField(doc, fieldAlgo),
		}
	}

	return u, nil
}

func encodeString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// decodeString reads an optional string field; null and missing are the same
// as absent.
func decodeString(doc bson.M, field string) *string {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func stringField(doc bson.M, field string) string {
	if s := decodeString(doc, field); s != nil {
		return *s
	}
	return ""
}

// decodeTime reads an optional epoch-millisecond field. BSON integers decode
// as int32 or int64 depending on magnitude, so both are accepted.
func decodeTime(doc bson.M, field string) *time.Time {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil
	}
	var millis int64
	switch n := v.(type) {
	case int64:
		millis = n
	case int32:
		millis = int64(n)
	case int:
		millis = int64(n)
	default:
		return nil
	}
	t := time.UnixMilli(millis).UTC()
	return &t
}
