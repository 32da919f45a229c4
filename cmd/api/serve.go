package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/lender-rates/internal/handler"
	"github.com/Dan9191/lender-rates/internal/scheduler"
	"github.com/Dan9191/lender-rates/internal/utils/email"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the daily refresh scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	logger, cfg := a.logger, a.cfg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := func(ctx context.Context) error {
		_, err := a.svc.RefreshRates(ctx)
		return err
	}
	sched, err := scheduler.New(scheduler.Options{
		Hour:     cfg.JobHour,
		Minute:   cfg.JobMinute,
		Location: cfg.Location(),
		Grace:    cfg.MisfireGrace,
	}, job, a.svc.LastRefresh, logger)
	if err != nil {
		return err
	}
	if cfg.AlertsEnabled() {
		sched.OnFailure(email.NewSender(cfg, logger).Hook())
	}

	if cfg.RefreshOnStart {
		if err := sched.TriggerNow(ctx); err != nil {
			// keep serving the previous snapshot; the schedule retries tomorrow
			logger.WithError(err).Error("Initial rate refresh failed")
		}
	}
	sched.Start(ctx)

	h := handler.NewHandler(a.svc, sched, cfg.AdminAPIKey, logger)
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			shutdownScheduler(sched)
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	sched.Stop(shutdownCtx)
	return nil
}

func shutdownScheduler(sched *scheduler.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(ctx)
}
