package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/autonomy-orchestrator/app"
	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/observability"
	"github.com/upb/autonomy-orchestrator/repositories/postgres"
	"go.uber.org/zap"
)

// Env holds the process-level hooks commands build on. Tests replace them
// to run commands against an in-memory store.
type Env struct {
	LoadConfig func(ctx context.Context) (*config.Config, error)
	NewLogger  func(cfg *config.Config) (*zap.Logger, error)
	Connect    func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.Dependencies, error)
	Migrate    func(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]string, error)
}

// RootOptions holds global flags for all commands
type RootOptions struct {
	Actor string
}

func defaultEnv() *Env {
	return &Env{
		LoadConfig: config.New,
		NewLogger: func(cfg *config.Config) (*zap.Logger, error) {
			return observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
		},
		Connect: app.NewDependencies,
		Migrate: migrateDatabase,
	}
}

// NewRootCommand creates the aol command tree
func NewRootCommand(env *Env) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "aol",
		Short:         "Autonomy orchestration layer",
		Long:          "Runs the tick scheduler, the campaign orchestrator and the operator API, and drives them from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", defaultActor(), "operator name recorded in the audit log")

	cmd.AddCommand(newServeCommand(env))
	cmd.AddCommand(newTickCommand(env))
	cmd.AddCommand(newOrchestrateCommand(env))
	cmd.AddCommand(newFlagsCommand(env, opts))
	cmd.AddCommand(newRequeueCommand(env, opts))
	cmd.AddCommand(newStatusCommand(env))
	cmd.AddCommand(newMigrateCommand(env))
	cmd.AddCommand(newTokenCommand(env))

	return cmd
}

// session is a loaded config, a logger and the wired components
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   *app.Dependencies
}

// Close runs after the command context may already be cancelled, so it
// flushes on a fresh one
func (s *session) Close() {
	if err := s.deps.Close(context.Background()); err != nil {
		s.logger.Warn("shutdown reported errors", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func (e *Env) setup(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := e.LoadConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := e.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (e *Env) open(ctx context.Context) (*session, error) {
	cfg, logger, err := e.setup(ctx)
	if err != nil {
		return nil, err
	}
	deps, err := e.Connect(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, deps: deps}, nil
}

func migrateDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]string, error) {
	db, err := postgres.NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.RunMigrations(ctx)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
