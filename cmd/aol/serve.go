package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/autonomy-orchestrator/app"
	"github.com/upb/autonomy-orchestrator/routes"
	"github.com/upb/autonomy-orchestrator/services/orchestrator"
	"github.com/upb/autonomy-orchestrator/services/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var killPollInterval = 5 * time.Second

type serveOptions struct {
	noAPI          bool
	noOrchestrator bool
}

func newServeCommand(env *Env) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tick loop, the campaign runner and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return serve(cmd.Context(), s, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noAPI, "no-api", false, "do not start the operator HTTP API")
	cmd.Flags().BoolVar(&opts.noOrchestrator, "no-orchestrator", false, "do not start the campaign runner even when enabled")
	return cmd
}

func serve(ctx context.Context, s *session, opts *serveOptions) error {
	deps, cfg, logger := s.deps, s.cfg, s.logger
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervise(gctx, deps, logger.Named("scheduler"), scheduler.ErrKilled, deps.Scheduler.Run)
	})

	if cfg.Orchestrator.Enabled && !opts.noOrchestrator {
		g.Go(func() error {
			return supervise(gctx, deps, logger.Named("orchestrator"), orchestrator.ErrKilled, deps.Runner.Run)
		})
	} else {
		logger.Info("campaign runner disabled")
	}

	if !opts.noAPI {
		srv := &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      routes.SetupRoutes(deps),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			logger.Info("operator API listening", zap.String("addr", srv.Addr))
			var err error
			if cfg.Server.TLS.Enabled {
				err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
			defer cancel()
			logger.Info("shutting down operator API")
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil {
		logger.Error("serve exited with error", zap.Error(err))
	}
	return err
}

// supervise runs loop until ctx ends. A loop halted by the kill switch is
// restarted once the switch is released, so the API stays up meanwhile.
func supervise(ctx context.Context, deps *app.Dependencies, logger *zap.Logger, killed error, loop func(context.Context) error) error {
	for {
		err := loop(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, killed) {
			return err
		}

		logger.Warn("loop halted, waiting for unkill")
		if !waitForUnkill(ctx, deps, killPollInterval) {
			return nil
		}
		logger.Info("kill switch released, restarting loop")
	}
}

// waitForUnkill blocks until the kill switch is off. It returns false when
// ctx ends first.
func waitForUnkill(ctx context.Context, deps *app.Dependencies, every time.Duration) bool {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		flags, err := deps.Controls.Get(ctx)
		if err != nil {
			deps.Logger.Warn("failed to read control flags", zap.Error(err))
			continue
		}
		if !flags.Killed {
			return true
		}
	}
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
