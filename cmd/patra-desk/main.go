// patra-desk is the operator console for a single desk. It keeps the desk
// session, gates every view through the access controller and applies
// letter actions optimistically against the patra API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/client"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/repository"
	"github.com/noah-isme/patra-api/internal/service"
	"github.com/noah-isme/patra-api/pkg/cache"
	"github.com/noah-isme/patra-api/pkg/config"
	"github.com/noah-isme/patra-api/pkg/jobs"
	"github.com/noah-isme/patra-api/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		gateway  string
		deskID   string
		useRedis bool
		poll     time.Duration
	)
	flagSet := pflag.NewFlagSet("patra-desk", pflag.ContinueOnError)
	flagSet.StringVar(&gateway, "gateway", cfg.Desk.GatewayURL, "base URL of the patra API, including the API prefix")
	flagSet.StringVar(&deskID, "desk", "default", "desk identifier used to key the stored session")
	flagSet.BoolVar(&useRedis, "redis", cfg.Desk.UseRedis, "keep the desk session in redis instead of process memory")
	flagSet.DurationVar(&poll, "poll", cfg.Letters.PollInterval, "letter list refresh interval")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := sessionStore(ctx, cfg, useRedis, deskID, logr)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := service.NewMetricsService()
	api := client.New(client.Config{BaseURL: gateway, Timeout: cfg.Desk.RequestLimit}, nil, logger.Component(logr, "client"))

	ended := make(chan service.VerifyOutcome, 1)
	session := service.NewSessionAuthority(store, api, logger.Component(logr, "session"), service.SessionConfig{
		InactivityCeiling: cfg.Session.InactivityCeiling,
		VerifyTimeout:     cfg.Session.VerifyTimeout,
	},
		service.WithSessionMetrics(metrics),
		service.WithSessionEndedHook(func(outcome service.VerifyOutcome) {
			select {
			case ended <- outcome:
			default:
			}
		}),
	)
	access := service.NewAccessController(session, logger.Component(logr, "access"), service.WithVerifyOnNavigate(cfg.Session.VerifyOnNavigate))

	letters := api.WithCredentials(session)
	engine := service.NewLifecycleEngine(service.NewAttachmentManager(service.WithReportMaxBytes(cfg.Letters.ReportMaxBytes)))
	reconciler := service.NewReconciler(engine, letters, session, logger.Component(logr, "reconciler"), service.ReconcilerConfig{
		MutationTimeout: cfg.Letters.MutationTimeout,
		Workers:         cfg.Jobs.Workers,
	}, service.WithReconcilerMetrics(metrics))
	reconciler.Start(ctx)
	defer reconciler.Stop()

	scheduler := jobs.NewScheduler(ctx, logger.Component(logr, "scheduler"))
	defer scheduler.Stop()

	d := &desk{
		out:        os.Stdout,
		api:        letters,
		auth:       api,
		session:    session,
		access:     access,
		reconciler: reconciler,
		scheduler:  scheduler,
		poll:       poll,
		verifyTick: cfg.Session.VerifyInterval,
		renewAhead: cfg.Session.RenewBuffer,
		listLimit:  cfg.Letters.ListLimit,
		ended:      ended,
	}
	if identity, err := session.Current(ctx); err == nil {
		d.startBackground()
		fmt.Fprintf(d.out, "resumed session for %s (%s)\n", identity.Email, identity.Role)
	}
	return d.repl(ctx, os.Stdin)
}

func sessionStore(ctx context.Context, cfg *config.Config, useRedis bool, deskID string, logr *zap.Logger) (service.CredentialStore, func(), error) {
	if !useRedis {
		return repository.NewMemorySessionStore(), func() {}, nil
	}
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	store := repository.NewCacheRepository(redisClient, logger.Component(logr, "cache"))
	return repository.NewSessionRepository(store, deskID), func() { _ = store.Close() }, nil
}

func defaultFilter(limit int) models.LetterFilter {
	if limit <= 0 {
		limit = 50
	}
	return models.LetterFilter{Limit: limit}
}
