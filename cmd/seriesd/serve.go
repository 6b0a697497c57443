package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cyp0633/librecur/config"
	"github.com/cyp0633/librecur/server/api"
	authmemory "github.com/cyp0633/librecur/server/auth/memory"
	"github.com/cyp0633/librecur/server/event"
	eventmemory "github.com/cyp0633/librecur/server/event/memory"
	"github.com/cyp0633/librecur/server/series"
	"github.com/cyp0633/librecur/server/storage"
	"github.com/cyp0633/librecur/server/storage/gormstore"
	"github.com/cyp0633/librecur/server/storage/memory"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger

	store, events, closeStore, err := openStores(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	users, err := authmemory.New(
		authmemory.WithLogger(logger),
		authmemory.WithUsers(cfg.Auth.Users),
	)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}
	if users.Len() == 0 {
		logger.Warn("no users configured, every API request will be rejected")
	}

	gin.SetMode(cfg.Server.Mode)
	svc := series.New(store, events, series.WithLogger(logger))
	handler := api.New(svc, users,
		api.WithLogger(logger),
		api.WithMaxWindowDays(cfg.Server.MaxWindowDays),
		api.WithRealm(cfg.Auth.Realm),
		api.WithEventStore(events),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStores builds the series and event stores for the configured driver.
func openStores(ctx context.Context, cfg *config.Config, opts *rootOptions) (storage.Storage, event.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := openPostgres(cfg, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.AutoMigrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
		return store, store.Events(), func() { _ = store.Close() }, nil
	default:
		opts.logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(memory.WithLogger(opts.logger)), eventmemory.New(), func() {}, nil
	}
}

func openPostgres(cfg *config.Config, opts *rootOptions) (*gormstore.Store, error) {
	db := cfg.Database
	return gormstore.Open(gormstore.DatabaseConfig{
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		DBName:   db.DBName,
		SSLMode:  db.SSLMode,
	}, gormstore.WithLogger(opts.logger))
}
