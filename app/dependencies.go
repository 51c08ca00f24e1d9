package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/internal/observability"
	"github.com/upb/autonomy-orchestrator/middleware"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/repositories/postgres"
	"github.com/upb/autonomy-orchestrator/services/audit"
	"github.com/upb/autonomy-orchestrator/services/controls"
	"github.com/upb/autonomy-orchestrator/services/dispatch"
	"github.com/upb/autonomy-orchestrator/services/gateway"
	"github.com/upb/autonomy-orchestrator/services/lease"
	"github.com/upb/autonomy-orchestrator/services/orchestrator"
	"github.com/upb/autonomy-orchestrator/services/proof"
	"github.com/upb/autonomy-orchestrator/services/queue"
	"github.com/upb/autonomy-orchestrator/services/safety"
	"github.com/upb/autonomy-orchestrator/services/scheduler"
	"github.com/upb/autonomy-orchestrator/services/status"
	"go.uber.org/zap"
)

const auditStopTimeout = 5 * time.Second

// Infrastructure is what the services are wired over: a store and a clock.
// DB is nil when the repositories are not database backed.
type Infrastructure struct {
	DB    *sql.DB
	Repos *repositories.Repositories
	Tx    repositories.TransactionManager
	Clock clock.Clock
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *sql.DB
	Logger *zap.Logger
	Clock  clock.Clock

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	Audit        *audit.AuditService
	Controls     *controls.Service
	Leases       *lease.Manager
	Queue        *queue.Service
	Registry     *dispatch.Registry
	Gate         *safety.Gate
	Ledger       *proof.Ledger
	Guard        *proof.EgressGuard
	Transport    proof.Transport
	Scheduler    *scheduler.Scheduler
	Orchestrator *orchestrator.Orchestrator
	Runner       *orchestrator.Runner
	Status       *status.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	closers []func(ctx context.Context) error
}

// NewDependencies opens the database and wires every component over it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db := factory.GetDB()
	if err := db.PingContext(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	deps, err := Wire(cfg, logger, Infrastructure{
		DB:    db.DB,
		Repos: factory.NewRepositories(),
		Tx:    factory.GetTransactionManager(),
		Clock: clock.Real{},
	})
	if err != nil {
		_ = factory.Close()
		return nil, err
	}

	shutdown, err := observability.InitTracer(cfg.Observability, logger)
	if err != nil {
		_ = deps.Close(ctx)
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	// closers run in reverse: audit drains, tracer flushes, then the pool closes
	deps.closers = append([]func(ctx context.Context) error{
		func(context.Context) error { return factory.Close() },
		shutdown,
	}, deps.closers...)

	logger.Info("all dependencies initialized successfully",
		zap.String("database", cfg.Database.LogString()),
		zap.String("holder", cfg.Scheduler.HolderID))
	return deps, nil
}

// Wire builds every service over infra and starts the audit workers
func Wire(cfg *config.Config, logger *zap.Logger, infra Infrastructure) (*Dependencies, error) {
	if infra.Repos == nil || infra.Tx == nil {
		return nil, errors.New("repositories and transaction manager are required")
	}
	clk := clock.Or(infra.Clock)
	repos := infra.Repos
	if cfg.Policy == nil {
		cfg.Policy = &config.Policy{}
	}

	d := &Dependencies{
		Config:    cfg,
		DB:        infra.DB,
		Logger:    logger,
		Clock:     clk,
		Repos:     repos,
		TxManager: infra.Tx,
	}

	d.Audit = audit.NewAuditService(repos.AuditLogs, logger, audit.DefaultConfig())
	if err := d.Audit.Start(); err != nil {
		return nil, fmt.Errorf("failed to start audit service: %w", err)
	}
	d.closers = append(d.closers, func(context.Context) error { return d.Audit.Stop(auditStopTimeout) })

	d.Controls = controls.NewService(repos.ControlFlags, d.Audit, cfg.Server.StatusCacheTTL, clk, logger)
	d.Leases = lease.NewManager(repos.Leases, cfg.Scheduler.HolderID, clk, logger)
	d.Gate = safety.NewGate(repos.Quotas, cfg.Policy, cfg.Safety.DefaultDailyLimit, clk, logger)
	d.Ledger = proof.NewLedger(repos.SendAttempts, clk, logger)
	d.Guard = proof.NewEgressGuard(cfg.Safety.EgressLock, cfg.Policy.AllowedHosts())
	if cfg.Gateway.BaseURL != "" {
		d.Transport = gateway.NewClient(gateway.ConfigFromApp(cfg.Gateway), logger)
	} else {
		logger.Warn("no send gateway configured, real sends will fail")
	}

	registry, err := dispatch.NewDefaultRegistry(dispatch.Deps{
		Jobs:   repos.DistributionJobs,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, d.abort(err)
	}
	d.Registry = registry
	d.Queue = queue.NewService(repos.Actions, cfg.Retry, cfg.Policy, registry, clk, logger)

	d.Scheduler, err = scheduler.New(scheduler.ConfigFromApp(cfg.Scheduler), scheduler.Deps{
		Leases:    d.Leases,
		Flags:     d.Controls,
		Queue:     d.Queue,
		Registry:  d.Registry,
		Gate:      d.Gate,
		Ledger:    d.Ledger,
		Guard:     d.Guard,
		Transport: d.Transport,
		Ticks:     repos.Ticks,
		Logs:      repos.ExecutionLogs,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return nil, d.abort(err)
	}

	d.Orchestrator, err = orchestrator.New(orchestrator.ConfigFromApp(cfg.Orchestrator), orchestrator.Deps{
		Leases:       d.Leases,
		Flags:        d.Controls,
		Campaigns:    repos.Campaigns,
		Leads:        repos.Leads,
		Suppressions: repos.Suppressions,
		Runs:         repos.CampaignRuns,
		Jobs:         repos.DistributionJobs,
		Tx:           infra.Tx,
		Queue:        d.Queue,
		Gate:         d.Gate,
		Clock:        clk,
		Logger:       logger,
	})
	if err != nil {
		return nil, d.abort(err)
	}
	d.Runner = orchestrator.NewRunner(d.Orchestrator, repos.Campaigns)

	d.Status = status.NewService(d.Controls, d.Leases, d.Queue, d.Gate, repos.Ticks, cfg.Scheduler.LeaseName, clk, logger)

	d.initAuth(cfg)

	logger.Info("components wired",
		zap.Strings("action_types", actionTypeNames(d.Registry)),
		zap.Bool("egress_lock", cfg.Safety.EgressLock),
		zap.Bool("orchestrator_enabled", cfg.Orchestrator.Enabled))
	return d, nil
}

// initAuth builds the operator API authentication middleware
func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.Disabled {
		d.Logger.Warn("operator API authentication disabled")
		d.AuthMiddleware = middleware.NewDisabledAuthMiddleware(d.Logger)
		return
	}
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("operator JWT secret not set, all API calls will be rejected")
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(
		middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		d.Logger,
	)
}

// abort stops what Wire already started and returns err
func (d *Dependencies) abort(err error) error {
	_ = d.Close(context.Background())
	return err
}

// Close releases resources in reverse dependency order
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if len(errs) > 0 {
		d.Logger.Error("errors during shutdown", zap.Errors("errors", errs))
	}
	return errors.Join(errs...)
}

func actionTypeNames(r *dispatch.Registry) []string {
	types := r.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
