package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/parisxmas/OxiDB/OxiField/internal/auth"
	"github.com/parisxmas/OxiDB/OxiField/internal/config"
	"github.com/parisxmas/OxiDB/OxiField/internal/db"
	"github.com/parisxmas/OxiDB/OxiField/internal/handler"
	"github.com/parisxmas/OxiDB/OxiField/internal/logging"
	"github.com/parisxmas/OxiDB/OxiField/internal/photosync"
	"github.com/parisxmas/OxiDB/OxiField/internal/remote"
	"github.com/parisxmas/OxiDB/OxiField/internal/repository"
	"github.com/parisxmas/OxiDB/OxiField/internal/router"
	"github.com/parisxmas/OxiDB/OxiField/internal/service"
	"github.com/parisxmas/OxiDB/OxiField/internal/syncwork"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oxifield: %v\n", err)
		os.Exit(1)
	}
	logger, closeLog := logging.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("OxiField stopped", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Local store of record
	local, err := db.OpenLocal(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer local.Close()
	logger.Info("local store ready", "path", cfg.DBPath)

	// Remote store; the pool keeps redialling while offline
	pool, err := db.NewPool(cfg.OxiDBHost, cfg.OxiDBPort, cfg.PoolSize, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	remoteStore := remote.NewStore(pool, logger)

	// Repositories
	events := repository.NewMutationEvents()
	defer events.Shutdown()
	surveyRepo := repository.NewSurveyRepo(local)
	mutationRepo := repository.NewMutationRepo(local, events, logger)
	submissionRepo := repository.NewSubmissionRepo(local, mutationRepo, events, logger)
	userRepo := repository.NewUserRepo(local)
	syncRequestRepo := repository.NewSyncRequestRepo(local)
	photoRequestRepo := repository.NewPhotoRequestRepo(local)

	// Background delivery
	photos, err := photosync.New(ctx, photosync.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		UsePathStyle:    cfg.S3.UsePathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		MediaDir:        cfg.MediaDir,
	}, photoRequestRepo, logger)
	if err != nil {
		return err
	}
	if !photos.Enabled() {
		logger.Info("photo sync disabled: no S3 bucket configured")
	}
	queue := syncwork.NewQueue(syncRequestRepo)
	worker := syncwork.NewWorker(queue, mutationRepo, userRepo, remoteStore, photos, logger, cfg.SyncWorkers)

	// Services
	authSvc := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	locSvc := service.NewLocationOfInterestService(surveyRepo, remoteStore, logger, cfg.RemoteTimeout)
	subSvc := service.NewSubmissionService(submissionRepo, remoteStore, queue, surveyRepo,
		auth.ContextAuthenticator{}, logger, service.WithRemoteTimeout(cfg.RemoteTimeout))

	if err := authSvc.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPass); err != nil {
		logger.Warn("failed to seed admin", "error", err)
	}

	// Router
	r := router.New(cfg.JWTSecret, logger, router.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Surveys:     handler.NewSurveyHandler(locSvc),
		Submissions: handler.NewSubmissionHandler(subSvc),
		Mutations:   handler.NewMutationHandler(subSvc, logger),
		Sync:        handler.NewSyncHandler(queue),
	})

	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Mutation streams are hijacked connections; they end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Remote indexes are created in the background so an offline start is not delayed.
	g.Go(func() error {
		start := time.Now()
		initCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := remoteStore.EnsureIndexes(initCtx); err != nil {
			logger.Warn("remote index creation failed", "error", err)
			return nil
		}
		logger.Info("remote indexes ready", "took", time.Since(start).Round(time.Millisecond))
		return nil
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return photos.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("OxiField server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
