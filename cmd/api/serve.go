package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pawdirectory/media/internal/config"
	"github.com/pawdirectory/media/internal/db"
	"github.com/pawdirectory/media/internal/upload"
	"github.com/pawdirectory/media/internal/user"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the persistence worker and the reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}

	d, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	uploadHandler := upload.NewHandler(d.Service, cfg.StorageBucket, cfg.MaxUploadBytes)
	userHandler := user.NewHandler(user.NewService(d.Users))
	reconciler := upload.NewReconciler(d.Service, upload.ReconcilerOptions{
		GracePeriod:  cfg.ReconcileGracePeriod,
		MaxAttempts:  cfg.ReconcileMaxAttempts,
		SweepOrphans: cfg.ReconcileSweepOrphans,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg.JWTSecret, uploadHandler, userHandler, d.Metrics.Handler()),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		log.Info().Msgf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return d.Queue.Consume(gctx, d.Service.Persist)
	})
	g.Go(func() error {
		return reconciler.Run(gctx, cfg.ReconcileInterval)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
