package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/config"
	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/server"
	"github.com/alfredjeanlab/onix/internal/store"
	"github.com/alfredjeanlab/onix/internal/store/memory"
	"github.com/alfredjeanlab/onix/internal/store/postgres"
	graphsync "github.com/alfredjeanlab/onix/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the onix HTTP and gRPC server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// The server never dials itself.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
		configFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("ONIX_DATABASE_URL not set, using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")
	return st, nil
}

func openPublisher(cfg *config.Config, hub *server.EventHub, logger *slog.Logger) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		logger.Info("NATS events disabled (ONIX_NATS_URL not set)")
		return events.MultiPublisher{hub}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	logger.Info("NATS events enabled", "nats_url", cfg.NATSURL)
	return events.MultiPublisher{hub, pub}, nil
}

func syncDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []graphsync.Destination {
	var dests []graphsync.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := graphsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "error", err)
		} else {
			dests = append(dests, d)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, graphsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	return dests
}

// serve runs the HTTP and gRPC servers until ctx is canceled, then shuts
// everything down in reverse order of startup.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	hub := server.NewEventHub()
	publisher, err := openPublisher(cfg, hub, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "error", err)
		}
	}()

	svc := cmdb.New(st, cmdb.WithPublisher(publisher), cmdb.WithLogger(logger))
	grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(svc, hub, logger).NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end when the server does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		server.WatchHealth(gctx, healthServer, st, 10*time.Second, logger)
		return nil
	})

	if cfg.SyncEnabled() {
		if dests := syncDestinations(gctx, cfg, logger); len(dests) > 0 {
			scheduler := graphsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
			scheduler.Start(gctx)
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			defer func() {
				scheduler.Stop()
				logger.Info("sync scheduler stopped")
			}()
		}
	}

	logger.Info("onix server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func init() {
	serveCmd.Flags().String("config", "", "config file (TOML, YAML or JSON); defaults to $ONIX_CONFIG")
	serveCmd.Flags().String("env-file", "", "load environment variables from a .env file first")
}
