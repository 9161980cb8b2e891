package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	teamscmd "github.com/Thomas0321/badminton-app/internal/cmd/teams"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := teamscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Error("parse flags", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := teamscmd.Run(ctx, cfg); err != nil {
		logger.Error("teams server failed", "error", err)
		os.Exit(1)
	}
}
