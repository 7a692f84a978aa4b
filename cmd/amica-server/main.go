// Command amica-server runs the companion memory and conversation service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file; environment variables are used when empty")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var cfg *core.Config
	if *configPath != "" {
		cfg, err = core.LoadConfigFromJSON(*configPath)
	} else {
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("server init failed", zap.Error(err))
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
