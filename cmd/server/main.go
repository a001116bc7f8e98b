package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/api"
	"github.com/dharsanguruparan/dokey/internal/config"
	"github.com/dharsanguruparan/dokey/internal/database"
	"github.com/dharsanguruparan/dokey/internal/logging"
	"github.com/dharsanguruparan/dokey/internal/reconcile"
	"github.com/dharsanguruparan/dokey/internal/repository"
	"github.com/dharsanguruparan/dokey/internal/s3storage"
	"github.com/dharsanguruparan/dokey/internal/signing"
	"github.com/dharsanguruparan/dokey/internal/storage"
	"github.com/dharsanguruparan/dokey/internal/synclock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	var store storage.Store
	if cfg.DatabaseURL == "" {
		log.Warn("DOKEY_DATABASE_URL not set, using in-memory storage")
		store = storage.NewMemoryStore()
	} else {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		store = repository.NewPostgresStore(pool)
	}
	txOpts := storage.TxOptions{MaxWait: cfg.TxMaxWait, Timeout: cfg.TxTimeout}

	reconcileOpts := []reconcile.Option{reconcile.WithTxOptions(txOpts)}
	locker, err := synclock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SyncLeaseTTL)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, concurrent syncs are not serialized")
	} else {
		defer locker.Close()
		reconcileOpts = append(reconcileOpts, reconcile.WithLocker(locker))
	}

	deps := api.Deps{
		Store:      store,
		Reconciler: reconcile.New(store, log, reconcileOpts...),
		Signing:    signing.NewService(store, log, txOpts),
		Links:      signing.NewLinkSigner(cfg.SigningSecret, cfg.LinkTTL, cfg.PublicURL),
		Log:        log,
	}

	if cfg.S3Enabled() {
		pdfs, err := s3storage.New(cfg)
		if err != nil {
			log.Fatalf("init storage: %v", err)
		}
		if err := pdfs.EnsureBucket(ctx); err != nil {
			log.Fatalf("ensure bucket: %v", err)
		}
		deps.PDFs = pdfs
	} else {
		log.Warn("object storage not configured, PDF uploads are disabled")
	}

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()
	deps.Queue = queueClient

	if err := api.New(cfg, deps).Run(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
