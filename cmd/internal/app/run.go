package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the process entrypoint for cmd/marketchat. It stops on SIGINT or SIGTERM
// and returns errors to main instead of exiting.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx)
}

// serve builds the runtime from .env and the process environment, then blocks until ctx ends.
func serve(ctx context.Context) error {
	if err := LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("config.loaded",
		"http.addr", cfg.HTTPAddr,
		"log.level", cfg.LogLevel,
		"db.configured", cfg.DatabaseURL != "",
		"db.schema", cfg.DBSchema,
		"redis.configured", cfg.RedisURL != "",
		"cors.origins", cfg.FrontendOrigins,
	)

	a, err := New(cfg, log)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	return a.Run(ctx)
}
