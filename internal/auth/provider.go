// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package auth orchestrates login state transitions, premium account
// linking, e-mail verification and the rate-limited async workflows around
// them.
//
// Every operation that touches storage or the mail transport is scheduled on
// the worker pool and returns a Future, so primary-context callers never
// block. The repositories assert the off-primary contract at their own entry
// points; the provider's public methods are safe to call from any context.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/luminauth/luminauth/internal/crypto"
	"github.com/luminauth/luminauth/internal/mail"
	"github.com/luminauth/luminauth/internal/sched"
	"github.com/luminauth/luminauth/internal/user"
)

// Defaults for the verification workflow.
const (
	DefaultMailWindow = time.Minute
	DefaultConfirmTTL = 10 * time.Minute
	tokenLength       = 16
)

// EmailVerifyData is a pending e-mail confirmation. It lives in the confirm
// cache until the matching token is presented or the entry expires.
type EmailVerifyData struct {
	Email    string
	Token    string
	UUID     uuid.UUID
	IssuedAt time.Time
}

// Options configures a Provider.
type Options struct {
	// MailWindow is the per-identity cooldown between set-email requests.
	MailWindow time.Duration

	// ConfirmTTL bounds how long a pending confirmation stays valid.
	ConfirmTTL time.Duration

	// Debug enables full transport-failure detail in logs.
	Debug bool

	// Registry receives the workflow metrics; nil disables registration.
	Registry prometheus.Registerer

	Logger *slog.Logger
}

// Provider is the authorization engine. It is the sole owner of the pending
// confirmation cache and the mail rate limiter; both are process-scoped and
// torn down by Close.
type Provider struct {
	repo    user.Repository
	hasher  crypto.Hasher
	mailer  mail.Mailer
	pool    *sched.Pool
	cache   *Cache[uuid.UUID, EmailVerifyData]
	limiter *RateLimiter[uuid.UUID]
	metrics *Metrics
	logger  *slog.Logger
	debug   bool
}

// NewProvider creates a Provider.
func NewProvider(repo user.Repository, hasher crypto.Hasher, mailer mail.Mailer, pool *sched.Pool, opts Options) *Provider {
	if opts.MailWindow <= 0 {
		opts.MailWindow = DefaultMailWindow
	}
	if opts.ConfirmTTL <= 0 {
		opts.ConfirmTTL = DefaultConfirmTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		repo:    repo,
		hasher:  hasher,
		mailer:  mailer,
		pool:    pool,
		cache:   NewCache[uuid.UUID, EmailVerifyData](opts.ConfirmTTL),
		limiter: NewRateLimiter[uuid.UUID](opts.MailWindow),
		metrics: NewMetrics(opts.Registry),
		logger:  logger,
		debug:   opts.Debug,
	}
}

// Close tears down the cache and limiter janitors.
func (p *Provider) Close() {
	p.cache.Close()
	p.limiter.Close()
}

// PendingConfirmation returns the pending verification entry for id, if any.
// Exposed for the command layer to show workflow state.
func (p *Provider) PendingConfirmation(id uuid.UUID) (EmailVerifyData, bool) {
	return p.cache.Get(id)
}

// RequestEmail starts the set/change e-mail workflow for u. Preconditions,
// checked in order: the account is premium-linked, the address is unused,
// the identity is not throttled, and the address passes the allow policy.
// On success a pending confirmation is cached and the verification mail
// dispatched. A transport failure keeps the pending entry so the token from
// a later resend or this mail (if it arrived after all) can still confirm.
func (p *Provider) RequestEmail(ctx context.Context, u *user.User, email string) *sched.Future[EmailVerifyData] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (EmailVerifyData, error) {
		return p.requestEmail(ctx, u, email)
	})
}

func (p *Provider) requestEmail(ctx context.Context, u *user.User, email string) (EmailVerifyData, error) {
	var none EmailVerifyData

	if !u.PremiumLinked() {
		return none, oops.Code("AUTH_EMAIL_NOT_PREMIUM").
			With("uuid", u.UUID.String()).
			Wrap(ErrNotPremium)
	}

	existing, err := p.findByEmail(ctx, email)
	if err != nil {
		return none, err
	}
	if existing != nil && existing.UUID != u.UUID {
		return none, oops.Code("AUTH_EMAIL_TAKEN").
			With("email", email).
			Wrap(ErrEmailTaken)
	}

	if p.limiter.TryAndLimit(u.UUID) {
		return none, oops.Code("AUTH_EMAIL_THROTTLED").
			With("uuid", u.UUID.String()).
			Wrap(ErrThrottled)
	}

	if !p.mailer.IsAllowedMail(email) {
		return none, oops.Code("AUTH_EMAIL_NOT_ALLOWED").
			With("email", email).
			Wrap(ErrMailNotAllowed)
	}

	token, err := generateAlphanumericToken(tokenLength)
	if err != nil {
		return none, oops.Code("AUTH_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	data := EmailVerifyData{Email: email, Token: token, UUID: u.UUID, IssuedAt: time.Now().UTC()}
	p.cache.Put(u.UUID, data)
	p.metrics.pending.Set(float64(p.cache.Len()))

	if err := p.mailer.SendVerificationMail(ctx, email, token, u.LastNickname); err != nil {
		p.metrics.mailsFailed.Inc()
		if p.debug {
			p.logger.Debug("verification mail dispatch failed",
				"request_id", ulid.Make().String(),
				"email", email,
				"uuid", u.UUID.String(),
				"error", err)
		}
		return none, oops.Code("AUTH_MAIL_NOT_SENT").Wrap(ErrMailNotSent)
	}

	p.metrics.mailsSent.Inc()
	return data, nil
}

// ConfirmEmail completes the workflow: the presented token must match an
// unexpired pending entry for id. Success persists the address on the record
// and clears the entry; any failure leaves cache state unchanged.
func (p *Provider) ConfirmEmail(ctx context.Context, id uuid.UUID, token string) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		return p.confirmEmail(ctx, id, token)
	})
}

func (p *Provider) confirmEmail(ctx context.Context, id uuid.UUID, token string) (*user.User, error) {
	data, ok := p.cache.Get(id)
	if !ok {
		return nil, oops.Code("AUTH_TOKEN_EXPIRED").
			With("uuid", id.String()).
			Wrap(ErrTokenExpired)
	}
	if data.Token != token {
		return nil, oops.Code("AUTH_TOKEN_INVALID").
			With("uuid", id.String()).
			Wrap(ErrTokenInvalid)
	}

	u, err := p.repo.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}

	u.Email = &data.Email
	if err := p.repo.Update(ctx, u); err != nil {
		return nil, err
	}

	p.cache.Remove(id)
	p.metrics.pending.Set(float64(p.cache.Len()))
	return u, nil
}

// Authenticate verifies a presented password against the stored credential
// triple. A match updates the session fields (last seen, last
// authentication, IP, last server) and transparently upgrades legacy hashes;
// a mismatch mutates nothing. Lockout is not handled here.
func (p *Provider) Authenticate(ctx context.Context, u *user.User, password, ip, server string) *sched.Future[bool] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (bool, error) {
		return p.authenticate(ctx, u, password, ip, server)
	})
}

func (p *Provider) authenticate(ctx context.Context, u *user.User, password, ip, server string) (bool, error) {
	if u.HashedPassword == nil {
		return false, oops.Code("AUTH_NO_PASSWORD").
			With("uuid", u.UUID.String()).
			Wrap(ErrNoPassword)
	}

	ok, err := p.hasher.Verify(password, *u.HashedPassword)
	if err != nil {
		return false, err
	}
	if !ok {
		p.metrics.authAttempts.WithLabelValues("failure").Inc()
		return false, nil
	}

	if p.hasher.NeedsUpgrade(*u.HashedPassword) {
		if upgraded, err := p.hasher.Hash(password); err == nil {
			u.HashedPassword = &upgraded
		}
	}

	u.Touch(time.Now().UTC(), ip, server)
	if err := p.repo.Update(ctx, u); err != nil {
		return false, err
	}

	p.metrics.authAttempts.WithLabelValues("success").Inc()
	return true, nil
}

// LinkPremium binds the externally verified identity to u. The pre-check
// lookup keeps the at-most-one-record-per-premium-uuid invariant; storage
// itself does not enforce it.
func (p *Provider) LinkPremium(ctx context.Context, u *user.User, premiumID uuid.UUID) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		return p.linkPremium(ctx, u, premiumID)
	})
}

func (p *Provider) linkPremium(ctx context.Context, u *user.User, premiumID uuid.UUID) (*user.User, error) {
	holder, err := p.findByPremiumUUID(ctx, premiumID)
	if err != nil {
		return nil, err
	}
	if holder != nil && holder.UUID != u.UUID {
		return nil, oops.Code("AUTH_PREMIUM_TAKEN").
			With("premium_uuid", premiumID.String()).
			Wrap(ErrPremiumTaken)
	}

	u.PremiumUUID = &premiumID
	if err := p.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UnlinkPremium removes the premium binding. Refused when the account has no
// password, since the record would become unauthenticatable.
func (p *Provider) UnlinkPremium(ctx context.Context, u *user.User) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		return p.unlinkPremium(ctx, u)
	})
}

func (p *Provider) unlinkPremium(ctx context.Context, u *user.User) (*user.User, error) {
	if u.HashedPassword == nil {
		return nil, oops.Code("AUTH_NO_PASSWORD").
			With("uuid", u.UUID.String()).
			Wrap(ErrNoPassword)
	}
	u.PremiumUUID = nil
	if err := p.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Register creates an offline account with a freshly hashed password.
func (p *Provider) Register(ctx context.Context, id uuid.UUID, nickname, password, ip string) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		return p.register(ctx, id, nickname, password, ip)
	})
}

func (p *Provider) register(ctx context.Context, id uuid.UUID, nickname, password, ip string) (*user.User, error) {
	existing, err := p.findByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, oops.Code("AUTH_ALREADY_REGISTERED").
			With("uuid", id.String()).
			Wrap(ErrAlreadyRegistered)
	}

	hp, err := p.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &user.User{
		UUID:           id,
		HashedPassword: &hp,
		LastNickname:   nickname,
		JoinDate:       &now,
		IP:             &ip,
	}
	if err := p.repo.Insert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword replaces the stored credential after verifying the current
// one when present. Premium accounts setting a first offline fallback pass
// an empty old password.
func (p *Provider) ChangePassword(ctx context.Context, u *user.User, oldPassword, newPassword string) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		return p.changePassword(ctx, u, oldPassword, newPassword)
	})
}

func (p *Provider) changePassword(ctx context.Context, u *user.User, oldPassword, newPassword string) (*user.User, error) {
	if u.HashedPassword != nil {
		ok, err := p.hasher.Verify(oldPassword, *u.HashedPassword)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, oops.Code("AUTH_WRONG_PASSWORD").
				With("uuid", u.UUID.String()).
				Errorf("current password does not match")
		}
	}

	hp, err := p.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	u.HashedPassword = &hp
	if err := p.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnableTOTP stores the shared second-factor secret.
func (p *Provider) EnableTOTP(ctx context.Context, u *user.User, secret string) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		u.Secret = &secret
		if err := p.repo.Update(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	})
}

// DisableTOTP clears the shared second-factor secret. Refused when the
// account has neither a password nor a premium link, since the secret would
// be its only remaining factor.
func (p *Provider) DisableTOTP(ctx context.Context, u *user.User) *sched.Future[*user.User] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (*user.User, error) {
		if !u.Authenticatable() {
			return nil, oops.Code("AUTH_NO_PASSWORD").
				With("uuid", u.UUID.String()).
				Wrap(ErrNoPassword)
		}
		u.Secret = nil
		if err := p.repo.Update(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	})
}

// DeleteAccount removes the record permanently.
func (p *Provider) DeleteAccount(ctx context.Context, u *user.User) *sched.Future[struct{}] {
	return sched.Submit(p.pool, ctx, func(ctx context.Context) (struct{}, error) {
		if err := p.repo.Delete(ctx, u); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// findByEmail treats absence as nil, not a failure.
func (p *Provider) findByEmail(ctx context.Context, email string) (*user.User, error) {
	u, err := p.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (p *Provider) findByPremiumUUID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := p.repo.GetByPremiumUUID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (p *Provider) findByUUID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := p.repo.GetByUUID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateAlphanumericToken produces a cryptographically random token.
func generateAlphanumericToken(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err //nolint:wrapcheck // caller wraps with workflow context
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}
