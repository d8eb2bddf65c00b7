// Command wsfanoutd runs the broadcaster: a single publisher producing
// messages at a fixed rate, fanned out to every connected WebSocket
// session in either naive or queue mode.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"wsfanout/internal/config"
	"wsfanout/internal/logging"
	"wsfanout/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsfanoutd: %v\n", err)
		return 2
	}

	logger := logging.New(logging.Config{JSON: cfg.LogJSON, Level: "info"})

	sup := supervisor.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return 1
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	sup.Stop()
	logger.Info().Msg("shutdown complete")

	return 0
}
