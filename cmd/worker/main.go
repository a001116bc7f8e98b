package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/config"
	"github.com/dharsanguruparan/dokey/internal/logging"
	"github.com/dharsanguruparan/dokey/internal/mail"
	"github.com/dharsanguruparan/dokey/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      log,
	})
	processor := worker.NewProcessor(mail.FromConfig(cfg, log), log)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.WithField("concurrency", cfg.WorkerConcurrency).Info("worker started")
	if err := server.Run(mux); err != nil {
		log.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
}
