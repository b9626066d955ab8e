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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/config"
	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/docstore/memory"
	"github.com/hongminglow/flatkeeper/internal/docstore/postgres"
	redisstore "github.com/hongminglow/flatkeeper/internal/docstore/redis"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/metrics"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/roles"
	"github.com/hongminglow/flatkeeper/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := server.New(cfg, store, metrics.New(), log)

			errCh := make(chan error, 1)
			go func() {
				log.Info("flatkeeper listening",
					zap.String("addr", cfg.HTTPAddress()),
					zap.String("backend", string(cfg.Backend)),
					zap.String("namespace", string(cfg.Namespace)))
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case err := <-errCh:
				return fmt.Errorf("http server error: %w", err)
			}

			ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctxShutdown); err != nil {
				log.Warn("graceful shutdown error", zap.Error(err))
			}
			return nil
		},
	}
}

// grantRoleCmd assigns a role directly in the store. It is the only way to
// create the first Super Admin.
func grantRoleCmd() *cobra.Command {
	var identityID, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Assign a role to an identity without an authenticated actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.Backend == docstore.BackendMemory {
				return errors.New("grant-role needs a persistent STORE_BACKEND")
			}

			store, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			resolver := roles.NewResolver(roles.Config{Store: store, Namespace: cfg.Namespace, Logger: log})
			if err := resolver.Bootstrap(cmd.Context(), identityID, models.Role(role)); err != nil {
				return fmt.Errorf("grant role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", identityID, role)
			return nil
		},
	}
	cmd.Flags().StringVar(&identityID, "identity", "", "identity id to update")
	cmd.Flags().StringVar(&role, "role", string(models.RoleSuperAdmin), "role to assign (User, Admin, Super Admin)")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "flatkeeper")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (docstore.Store, error) {
	switch cfg.Backend {
	case docstore.BackendPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	case docstore.BackendRedis:
		store, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return store, nil
	default:
		log.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
}
