// Package main runs database migrations outside the bot process.
//
//	migrate up | down | redo | reset | status | version
//
// DATABASE_URL is read from the environment or a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/antbot/course-bot/internal/infrastructure/persistence/postgres"
	"github.com/antbot/course-bot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return errors.New("DATABASE_URL is required")
	}

	log := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Format: "text"})

	conn, err := postgres.NewConnection(ctx, postgres.DefaultConfig(url))
	if err != nil {
		return err
	}
	defer conn.Close()

	return postgres.Migrate(ctx, conn, command, log)
}
