// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package auth_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luminauth/luminauth/internal/auth"
	"github.com/luminauth/luminauth/internal/crypto"
	"github.com/luminauth/luminauth/internal/sched"
	"github.com/luminauth/luminauth/internal/user"
	"github.com/luminauth/luminauth/pkg/errutil"
)

// memRepo is an in-memory user.Repository for workflow tests.
type memRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newMemRepo(users ...*user.User) *memRepo {
	r := &memRepo{users: make(map[uuid.UUID]*user.User)}
	for _, u := range users {
		cp := *u
		r.users[u.UUID] = &cp
	}
	return r
}

func (r *memRepo) GetByUUID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetByPremiumUUID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.PremiumUUID != nil && *u.PremiumUUID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memRepo) GetByName(_ context.Context, name string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.LastNickname == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memRepo) GetByIP(_ context.Context, ip string) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*user.User
	for _, u := range r.users {
		if u.IP != nil && *u.IP == ip {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) GetAll(_ context.Context) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*user.User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) Insert(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.UUID] = &cp
	return nil
}

func (r *memRepo) InsertAll(ctx context.Context, users []*user.User) error {
	for _, u := range users {
		if err := r.Insert(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (r *memRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.UUID]; !ok {
		return user.ErrNotFound
	}
	cp := *u
	r.users[u.UUID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.UUID]; !ok {
		return user.ErrNotFound
	}
	delete(r.users, u.UUID)
	return nil
}

// fakeMailer records dispatches and can simulate transport failure.
type fakeMailer struct {
	mu      sync.Mutex
	sendErr error
	sent    []string // "email:token"
	denied  map[string]bool
}

func (m *fakeMailer) SendVerificationMail(_ context.Context, email, token, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, email+":"+token)
	return nil
}

func (m *fakeMailer) IsAllowedMail(email string) bool {
	return !m.denied[email]
}

func (m *fakeMailer) lastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	last := m.sent[len(m.sent)-1]
	for i := len(last) - 1; i >= 0; i-- {
		if last[i] == ':' {
			return last[i+1:]
		}
	}
	return ""
}

type fixture struct {
	repo     *memRepo
	mailer   *fakeMailer
	pool     *sched.Pool
	provider *auth.Provider
}

func newFixture(t *testing.T, opts auth.Options, users ...*user.User) *fixture {
	t.Helper()

	f := &fixture{
		repo:   newMemRepo(users...),
		mailer: &fakeMailer{denied: make(map[string]bool)},
		pool:   sched.NewPool(2),
	}
	f.provider = auth.NewProvider(f.repo, crypto.NewDefaultHasher(), f.mailer, f.pool, opts)
	t.Cleanup(func() {
		f.provider.Close()
		f.pool.Close()
	})
	return f
}

func premiumUser(t *testing.T) *user.User {
	t.Helper()
	premium := uuid.New()
	return &user.User{
		UUID:         uuid.New(),
		PremiumUUID:  &premium,
		LastNickname: "Steve",
	}
}

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{16}$`)

func TestProvider_RequestEmail(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	t.Run("happy path caches entry and dispatches mail", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		data, err := f.provider.RequestEmail(ctx, u, "steve@example.com").Await(ctx)
		require.NoError(t, err)

		assert.Equal(t, "steve@example.com", data.Email)
		assert.Equal(t, u.UUID, data.UUID)
		assert.Regexp(t, tokenPattern, data.Token)
		assert.Equal(t, data.Token, f.mailer.lastToken())

		pending, ok := f.provider.PendingConfirmation(u.UUID)
		require.True(t, ok)
		assert.Equal(t, data, pending)
	})

	t.Run("non-premium account is refused", func(t *testing.T) {
		u := &user.User{UUID: uuid.New(), LastNickname: "Alex"}
		f := newFixture(t, auth.Options{}, u)

		_, err := f.provider.RequestEmail(ctx, u, "alex@example.com").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrNotPremium)
		assert.Empty(t, f.mailer.sent)
	})

	t.Run("address held by another account is refused", func(t *testing.T) {
		taken := "taken@example.com"
		other := &user.User{UUID: uuid.New(), Email: &taken}
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u, other)

		_, err := f.provider.RequestEmail(ctx, u, taken).Await(ctx)
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("second request inside the window is throttled", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{MailWindow: time.Minute}, u)

		_, err := f.provider.RequestEmail(ctx, u, "steve@example.com").Await(ctx)
		require.NoError(t, err)

		_, err = f.provider.RequestEmail(ctx, u, "steve@example.com").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrThrottled)
		errutil.AssertErrorCode(t, err, "AUTH_EMAIL_THROTTLED")
		assert.Len(t, f.mailer.sent, 1)
	})

	t.Run("disallowed address is refused after consuming the window", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)
		f.mailer.denied["bad@spam.invalid"] = true

		_, err := f.provider.RequestEmail(ctx, u, "bad@spam.invalid").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrMailNotAllowed)
		assert.Empty(t, f.mailer.sent)
	})

	t.Run("transport failure keeps the pending entry", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)
		f.mailer.sendErr = errors.New("smtp: connection refused")

		_, err := f.provider.RequestEmail(ctx, u, "steve@example.com").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrMailNotSent)

		pending, ok := f.provider.PendingConfirmation(u.UUID)
		require.True(t, ok)
		assert.Equal(t, "steve@example.com", pending.Email)
		assert.Regexp(t, tokenPattern, pending.Token)
	})
}

func TestProvider_ConfirmEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("matching token persists the address and clears the entry", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		data, err := f.provider.RequestEmail(ctx, u, "steve@example.com").Await(ctx)
		require.NoError(t, err)

		confirmed, err := f.provider.ConfirmEmail(ctx, u.UUID, data.Token).Await(ctx)
		require.NoError(t, err)
		require.NotNil(t, confirmed.Email)
		assert.Equal(t, "steve@example.com", *confirmed.Email)

		stored, err := f.repo.GetByUUID(ctx, u.UUID)
		require.NoError(t, err)
		require.NotNil(t, stored.Email)
		assert.Equal(t, "steve@example.com", *stored.Email)

		_, ok := f.provider.PendingConfirmation(u.UUID)
		assert.False(t, ok)
	})

	t.Run("wrong token is refused and the entry survives", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		_, err := f.provider.RequestEmail(ctx, u, "steve@example.com").Await(ctx)
		require.NoError(t, err)

		_, err = f.provider.ConfirmEmail(ctx, u.UUID, "0000000000000000").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)

		_, ok := f.provider.PendingConfirmation(u.UUID)
		assert.True(t, ok)

		stored, err := f.repo.GetByUUID(ctx, u.UUID)
		require.NoError(t, err)
		assert.Nil(t, stored.Email)
	})

	t.Run("no pending entry reports expiry", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		_, err := f.provider.ConfirmEmail(ctx, u.UUID, "ABCDEFGHIJKLMNOP").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
		errutil.AssertErrorCode(t, err, "AUTH_TOKEN_EXPIRED")
	})
}

func TestProvider_Authenticate(t *testing.T) {
	ctx := context.Background()
	hasher := crypto.NewDefaultHasher()

	newOfflineUser := func(t *testing.T, password string) *user.User {
		t.Helper()
		hp, err := hasher.Hash(password)
		require.NoError(t, err)
		return &user.User{UUID: uuid.New(), LastNickname: "Steve", HashedPassword: &hp}
	}

	t.Run("match updates session fields", func(t *testing.T) {
		u := newOfflineUser(t, "hunter2")
		f := newFixture(t, auth.Options{}, u)

		ok, err := f.provider.Authenticate(ctx, u, "hunter2", "203.0.113.9", "lobby-1").Await(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		stored, err := f.repo.GetByUUID(ctx, u.UUID)
		require.NoError(t, err)
		require.NotNil(t, stored.IP)
		assert.Equal(t, "203.0.113.9", *stored.IP)
		require.NotNil(t, stored.LastServer)
		assert.Equal(t, "lobby-1", *stored.LastServer)
		assert.NotNil(t, stored.LastSeen)
		assert.NotNil(t, stored.LastAuthentication)
	})

	t.Run("mismatch mutates nothing", func(t *testing.T) {
		u := newOfflineUser(t, "hunter2")
		f := newFixture(t, auth.Options{}, u)

		ok, err := f.provider.Authenticate(ctx, u, "wrong", "203.0.113.9", "lobby-1").Await(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		stored, err := f.repo.GetByUUID(ctx, u.UUID)
		require.NoError(t, err)
		assert.Nil(t, stored.IP)
		assert.Nil(t, stored.LastAuthentication)
	})

	t.Run("passwordless account is refused", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		_, err := f.provider.Authenticate(ctx, u, "anything", "203.0.113.9", "lobby-1").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrNoPassword)
	})

	t.Run("legacy hash is upgraded on match", func(t *testing.T) {
		salt := []byte{0x01, 0x02, 0x03, 0x04}
		sum := sha256.Sum256(append([]byte("hunter2"), salt...))
		u := &user.User{
			UUID:         uuid.New(),
			LastNickname: "Steve",
			HashedPassword: &user.HashedPassword{
				Hash:      hex.EncodeToString(sum[:]),
				Salt:      hex.EncodeToString(salt),
				Algorithm: crypto.AlgorithmSHA256,
			},
		}
		f := newFixture(t, auth.Options{}, u)

		ok, err := f.provider.Authenticate(ctx, u, "hunter2", "203.0.113.9", "lobby-1").Await(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		stored, err := f.repo.GetByUUID(ctx, u.UUID)
		require.NoError(t, err)
		require.NotNil(t, stored.HashedPassword)
		assert.Equal(t, crypto.AlgorithmArgon2ID, stored.HashedPassword.Algorithm)

		ok, err = hasher.Verify("hunter2", *stored.HashedPassword)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestProvider_PremiumLinking(t *testing.T) {
	ctx := context.Background()
	hasher := crypto.NewDefaultHasher()

	t.Run("link persists the premium identity", func(t *testing.T) {
		u := &user.User{UUID: uuid.New(), LastNickname: "Alex"}
		f := newFixture(t, auth.Options{}, u)
		premium := uuid.New()

		linked, err := f.provider.LinkPremium(ctx, u, premium).Await(ctx)
		require.NoError(t, err)
		require.NotNil(t, linked.PremiumUUID)
		assert.Equal(t, premium, *linked.PremiumUUID)

		stored, err := f.repo.GetByPremiumUUID(ctx, premium)
		require.NoError(t, err)
		assert.Equal(t, u.UUID, stored.UUID)
	})

	t.Run("identity held by another account is refused", func(t *testing.T) {
		premium := uuid.New()
		holder := &user.User{UUID: uuid.New(), PremiumUUID: &premium}
		u := &user.User{UUID: uuid.New()}
		f := newFixture(t, auth.Options{}, holder, u)

		_, err := f.provider.LinkPremium(ctx, u, premium).Await(ctx)
		assert.ErrorIs(t, err, auth.ErrPremiumTaken)
	})

	t.Run("unlink without a password is refused", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		_, err := f.provider.UnlinkPremium(ctx, u).Await(ctx)
		assert.ErrorIs(t, err, auth.ErrNoPassword)
	})

	t.Run("unlink with a password clears the binding", func(t *testing.T) {
		hp, err := hasher.Hash("hunter2")
		require.NoError(t, err)
		u := premiumUser(t)
		u.HashedPassword = &hp
		f := newFixture(t, auth.Options{}, u)

		unlinked, err := f.provider.UnlinkPremium(ctx, u).Await(ctx)
		require.NoError(t, err)
		assert.Nil(t, unlinked.PremiumUUID)

		stored, err := f.repo.GetByUUID(ctx, u.UUID)
		require.NoError(t, err)
		assert.Nil(t, stored.PremiumUUID)
	})
}

func TestProvider_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account with hashed credential", func(t *testing.T) {
		f := newFixture(t, auth.Options{})
		id := uuid.New()

		u, err := f.provider.Register(ctx, id, "Steve", "hunter2", "203.0.113.9").Await(ctx)
		require.NoError(t, err)
		require.NotNil(t, u.HashedPassword)
		assert.Equal(t, crypto.AlgorithmArgon2ID, u.HashedPassword.Algorithm)
		assert.NotNil(t, u.JoinDate)

		stored, err := f.repo.GetByUUID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Steve", stored.LastNickname)
	})

	t.Run("existing identity is refused", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		_, err := f.provider.Register(ctx, u.UUID, "Steve", "hunter2", "").Await(ctx)
		assert.ErrorIs(t, err, auth.ErrAlreadyRegistered)
	})
}

func TestProvider_ChangePassword(t *testing.T) {
	ctx := context.Background()
	hasher := crypto.NewDefaultHasher()

	t.Run("wrong current password is refused", func(t *testing.T) {
		hp, err := hasher.Hash("hunter2")
		require.NoError(t, err)
		u := &user.User{UUID: uuid.New(), HashedPassword: &hp}
		f := newFixture(t, auth.Options{}, u)

		_, err = f.provider.ChangePassword(ctx, u, "wrong", "newpass").Await(ctx)
		assert.Error(t, err)
	})

	t.Run("premium account sets first fallback without old password", func(t *testing.T) {
		u := premiumUser(t)
		f := newFixture(t, auth.Options{}, u)

		changed, err := f.provider.ChangePassword(ctx, u, "", "newpass").Await(ctx)
		require.NoError(t, err)
		require.NotNil(t, changed.HashedPassword)

		ok, err := hasher.Verify("newpass", *changed.HashedPassword)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestProvider_TOTPAndDelete(t *testing.T) {
	ctx := context.Background()

	u := premiumUser(t)
	f := newFixture(t, auth.Options{}, u)

	enabled, err := f.provider.EnableTOTP(ctx, u, "JBSWY3DPEHPK3PXP").Await(ctx)
	require.NoError(t, err)
	assert.True(t, enabled.TOTPEnabled())

	disabled, err := f.provider.DisableTOTP(ctx, enabled).Await(ctx)
	require.NoError(t, err)
	assert.False(t, disabled.TOTPEnabled())

	_, err = f.provider.DeleteAccount(ctx, disabled).Await(ctx)
	require.NoError(t, err)

	_, err = f.repo.GetByUUID(ctx, u.UUID)
	assert.ErrorIs(t, err, user.ErrNotFound)
}
