// Command buxtond is the Buxton daemon entrypoint, modeled on the teacher's
// main.go: automaxprocs, config load, server construction, signal-driven
// shutdown.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"buxton/internal/config"
	"buxton/internal/logging"
	"buxton/internal/server"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides BUXTON_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		panic("buxtond: failed to load configuration: " + err.Error())
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic("buxtond: failed to build logger: " + err.Error())
	}
	cfg.LogFields(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct server")
	}

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("received shutdown signal")
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
