package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/internal/app"
	"github.com/charlesng35/skyprovider/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("skyprovider", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	stack, err := bootstrapRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, stack.Shutdown(shutdownCtx))
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Handshake sockets are hijacked, so Shutdown does not wait for them; close them first.
	stack.App.Hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
