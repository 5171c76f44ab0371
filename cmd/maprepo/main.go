// maprepo - shared custom map repository
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/config"
	"github.com/DoyleJ11/rts-lobby/internal/maprepo"
)

func main() {
	fs := flag.NewFlagSet("maprepo", flag.ExitOnError)
	configPath := fs.String("config", "lobby.yml", "path to config file")
	envFile := fs.String("env", ".env", "optional env file with overrides")
	listen := fs.String("listen", "", "listen address (overrides map_repo.listen_addr)")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.MapRepo.ListenAddr = *listen
	}

	log, err := zap.NewProduction()
	if cfg.Log.Development {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg.MapRepo, log); err != nil {
		log.Fatal("map repository stopped", zap.Error(err))
	}
}

func run(cfg config.MapRepoConfig, log *zap.Logger) error {
	var store maprepo.Store
	if cfg.DatabaseURL != "" {
		gs, err := maprepo.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer gs.Close()
		store = gs
		log.Info("using postgres store")
	} else {
		store = maprepo.NewMemoryStore()
		log.Warn("no database_url configured, maps are kept in memory")
	}

	repo, err := maprepo.NewServer(store, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      repo.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("map repository listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
