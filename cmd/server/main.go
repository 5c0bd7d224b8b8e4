// Package main is the service entry point.
// It loads the configuration, initializes the application and serves until
// SIGINT/SIGTERM, then shuts down gracefully.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/token-shop/internal/app"
	"serotonyl.ru/token-shop/internal/config"
)

const shutdownTimeout = 20 * time.Second

func main() {
	setupLogging(false)

	log.Info("=== token shop starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	setupLogging(cfg.IsProduction())
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize application")
	}
	defer application.Close()

	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(application.Server.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := application.Server.Shutdown(shutdownCtx)
		application.Scheduler.Stop()
		if werr := application.Dispatcher.Wait(shutdownCtx); werr != nil {
			log.WithError(werr).Warn("notifications still in flight")
		}
		return err
	})

	log.Info("=== token shop ready ===")

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}
	log.Info("=== token shop stopped ===")
}

// setupLogging sets the log format: JSON in production, text otherwise.
func setupLogging(production bool) {
	if production {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	log.SetOutput(os.Stdout)
}
