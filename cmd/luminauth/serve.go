// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/luminauth/luminauth/internal/auth"
	"github.com/luminauth/luminauth/internal/config"
	"github.com/luminauth/luminauth/internal/crypto"
	"github.com/luminauth/luminauth/internal/database/mongo"
	"github.com/luminauth/luminauth/internal/database/postgres"
	"github.com/luminauth/luminauth/internal/logging"
	"github.com/luminauth/luminauth/internal/mail"
	"github.com/luminauth/luminauth/internal/observability"
	"github.com/luminauth/luminauth/internal/routing"
	"github.com/luminauth/luminauth/internal/sched"
	"github.com/luminauth/luminauth/internal/user"
	"github.com/luminauth/luminauth/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication backend",
		Long: `Start the authentication backend: connect the configured storage
backend, run the authorization provider and the routing pools, and expose
metrics and health probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	debug := cfg.Bool(config.KeyDebug)
	logger := logging.SetDefault("luminauth", version, logging.Options{
		Format: cfg.String(config.KeyLogFormat),
		Debug:  debug,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard := sched.NewGuard(debug, logger)

	repo, disconnect, err := connectBackend(ctx, cfg, guard, logger)
	if err != nil {
		return err
	}
	defer disconnect()

	mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.String(config.KeyMailSMTPHost),
		Port:     cfg.Int(config.KeyMailSMTPPort),
		Username: cfg.String(config.KeyMailSMTPUser),
		Password: cfg.String(config.KeyMailSMTPPass),
		From:     cfg.String(config.KeyMailFrom),
		FromName: cfg.String(config.KeyMailFromName),
	}, cfg.Strings(config.KeyMailAllowed))
	if err != nil {
		return err
	}

	registry := observability.NewRegistry()

	pool := sched.NewPool(cfg.Int(config.KeyWorkers))
	defer pool.Close()

	provider := auth.NewProvider(repo, crypto.NewDefaultHasher(), mailer, pool, auth.Options{
		MailWindow: cfg.Duration(config.KeyMailWindow),
		ConfirmTTL: cfg.Duration(config.KeyConfirmTTL),
		Debug:      debug,
		Registry:   registry,
		Logger:     logger,
	})
	defer provider.Close()

	handler := routing.NewServerHandler(logger)
	watcher := routing.NewLifecycleWatcher(handler, routing.ResolverFunc(
		func(name string) (routing.Server, bool) {
			return routing.StaticServer{ServerName: name}, true
		},
	), routing.Rules{
		LobbyTags:  cfg.StringMap(config.KeyRoutingLobbyTag),
		LobbyGroup: cfg.String(config.KeyLobbyGroup),
		AuthGroup:  cfg.String(config.KeyAuthGroup),
	}, logger)

	// TODO: feed real platform lifecycle events here once the proxy adapter
	// transport lands; until then the pools only change through Seed.
	events := make(chan routing.ServiceEvent)
	go watcher.Run(ctx, events)

	var obsServer *observability.Server
	if addr := cfg.String(config.KeyMetricsAddr); addr != "" {
		obsServer = observability.NewServer(addr, registry, func() bool { return true })
		errCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go func() {
			if serveErr, ok := <-errCh; ok && serveErr != nil {
				errutil.LogError(logger, "observability server failed", serveErr)
				stop()
			}
		}()
	}

	logger.Info("authentication backend started",
		"backend", cfg.String(config.KeyBackend),
		"workers", cfg.Int(config.KeyWorkers),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if obsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "observability shutdown failed", err)
		}
	}

	return nil
}

// connectBackend opens the configured storage backend and returns its user
// repository plus a disconnect function.
func connectBackend(ctx context.Context, cfg *config.Config, guard *sched.Guard, logger *slog.Logger) (user.Repository, func(), error) {
	backend := cfg.String(config.KeyBackend)
	switch backend {
	case "postgres":
		connector := postgres.NewConnector(cfg)
		if err := connector.Connect(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		disconnect := func() { _ = connector.Disconnect(context.Background()) }
		return postgres.NewUserRepository(connector, guard), disconnect, nil

	case "mongo":
		connector := mongo.NewConnector(cfg)
		if err := connector.Connect(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("connected to mongo")
		disconnect := func() { _ = connector.Disconnect(context.Background()) }
		return mongo.NewUserRepository(connector, guard), disconnect, nil

	default:
		return nil, nil, oops.Code("CONFIG_INVALID").
			With("backend", backend).
			Errorf("unknown database backend: %s", backend)
	}
}
