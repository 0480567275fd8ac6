package main

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mutter0815/BulkMailer/internal/store"
	"github.com/Mutter0815/BulkMailer/pkg/config"
	"github.com/Mutter0815/BulkMailer/pkg/db"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
	"github.com/Mutter0815/BulkMailer/pkg/metrics"
	"github.com/Mutter0815/BulkMailer/pkg/rmq"
	"github.com/Mutter0815/BulkMailer/services/sender-worker/worker"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logx.L().Warnw("dotenv_error", "error", err)
	}
	config.MustLoadWorker()
	cfg := config.Worker

	if err := logx.Configure(logx.Options{Level: cfg.LogLevel}); err != nil {
		logx.L().Warnw("logger_config_error", "error", err)
	}
	defer logx.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.Queue, 10)
	if err != nil {
		logx.L().Fatalw("rmq_consumer_init_error", "error", err)
	}
	defer cons.Close()

	pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_publisher_init_error", "error", err)
	}
	defer pub.Close()

	var sender worker.Sender = worker.LogSender{}
	if cfg.Provider == "ses" {
		sender, err = worker.NewSESSender(ctx, worker.SESConfig{Region: cfg.SESRegion})
		if err != nil {
			logx.L().Fatalw("ses_init_error", "error", err)
		}
	}

	w := worker.New(store.New(sqlDB), cons, pub, sender, worker.Options{
		MaxRetries: cfg.MaxRetries,
		From:       mail.Address{Name: cfg.FromName, Address: cfg.FromAddress},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the consumer ending for any reason takes the metrics listener down too
		defer stop()
		err := w.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logx.L().Infow("metrics_listen_start", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logx.L().Errorw("worker_exit_error", "error", err)
	}
	logx.L().Infow("sender-worker stopped gracefully")
}
