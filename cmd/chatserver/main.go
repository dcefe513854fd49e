package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autkucakan/Chat-Block/internal/auth"
	"github.com/autkucakan/Chat-Block/internal/server"
	"github.com/autkucakan/Chat-Block/internal/store"
	"github.com/autkucakan/Chat-Block/pkg/config"
	"github.com/autkucakan/Chat-Block/pkg/logging"
)

func main() {
	issueTokenFor := flag.Int64("issue-token", 0, "print an access token for the given user id and exit")
	flag.Parse()

	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(cfg.Log.Level)
	slog.SetDefault(logger)

	// Out-of-band token minting for operators and tests; the login endpoint
	// that normally issues these lives in the HTTP API.
	if *issueTokenFor != 0 {
		validator := auth.NewValidator(cfg.Server.Auth.JWTSecret)
		token, err := validator.Issue(*issueTokenFor, cfg.Server.Auth.TokenTTL)
		if err != nil {
			logger.Error("Failed to issue token", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	st, err := store.OpenSQLite(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, st, prometheus.DefaultRegisterer)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
