package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"packshot/internal/db"
	"packshot/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var list bool
	flag.BoolVar(&list, "list", false, "print the embedded migrations and exit")
	flag.Parse()

	if list {
		migrations, err := db.Migrations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read migrations: %v\n", err)
			os.Exit(1)
		}
		for _, m := range migrations {
			fmt.Println(m.Version)
		}
		return
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := infra.NewLogger(os.Getenv("APP_ENV")).With().Str("cmd", "migrate").Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applied, err := db.Migrate(ctx, dbURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Strs("applied", applied).Msg("schema up to date")
}
