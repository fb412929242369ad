package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/aman-zulfiqar/solana-bundler/internal/config"
	"github.com/aman-zulfiqar/solana-bundler/internal/engine"
	"github.com/aman-zulfiqar/solana-bundler/internal/server"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if path := os.Getenv("BUNDLER_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			logger.WithError(err).Fatal("invalid config file")
		}
		logger.WithField("path", path).Info("applied config file")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	eng, err := engine.New(ctx, cfg, engine.Options{Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize engine")
	}
	defer eng.Close()

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: eng.Handlers(),
		Config: server.ServerConfig{
			Addr:    cfg.APIAddr,
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	// Order monitor and balance watcher
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx) }()

	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down")
		case err := <-runDone:
			if err != nil {
				logger.WithError(err).Error("background loops stopped")
			}
		}
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", cfg.APIAddr).Info("bundler api starting")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("api server failed")
	}

	if err := srv.WaitClosed(context.Background()); err != nil {
		logger.WithError(err).Warn("server did not close cleanly")
	}
	if err := eng.Queue.Idle(context.Background()); err != nil {
		logger.WithError(err).Warn("queue still busy at exit")
	}
}
