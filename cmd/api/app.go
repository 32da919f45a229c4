package main

import (
	"fmt"
	"os"

	"github.com/Dan9191/lender-rates/internal/config"
	"github.com/Dan9191/lender-rates/internal/integrations/fred"
	"github.com/Dan9191/lender-rates/internal/lenders"
	"github.com/Dan9191/lender-rates/internal/repository"
	"github.com/Dan9191/lender-rates/internal/resolver"
	"github.com/Dan9191/lender-rates/internal/service"
	"github.com/Dan9191/lender-rates/internal/walkstate"
	"github.com/sirupsen/logrus"
)

// app holds the wired layers shared by every command
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	repo   *repository.Repository
	svc    *service.Service
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

// newApp loads configuration and initializes the storage, rate source and service layers
func newApp() (*app, error) {
	logger := newLogger()

	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.UsesDefaultAdminKey() {
		logger.Warn("ADMIN_API_KEY is unset; the admin refresh endpoint accepts the public default key")
	}

	table := lenders.DefaultTable()
	if cfg.LendersFile != "" {
		if table, err = lenders.LoadTable(cfg.LendersFile); err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"file":    cfg.LendersFile,
			"lenders": table.Len(),
		}).Info("Loaded lender spread table")
	}

	repo, err := repository.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate store: %w", err)
	}

	state := walkstate.NewStore(cfg.RateStateFile, logger)
	fredClient := fred.NewClient(cfg, logger)
	res := resolver.NewResolver(fredClient, state, cfg.FetchTimeout, logger)
	svc := service.NewService(repo, res, table, logger)

	return &app{cfg: cfg, logger: logger, repo: repo, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close rate store")
	}
}
