package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tejusbharadwaj/hydrolink/internal/config"
	server "github.com/tejusbharadwaj/hydrolink/internal/grpc"
	"github.com/tejusbharadwaj/hydrolink/internal/hydrolink"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Refresh the meters on a schedule and serve health and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appConfig, logger, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, appConfig, logger)
		},
	}
}

func serve(ctx context.Context, appConfig *config.Config, logger *logrus.Logger) error {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	health := server.NewHealthChecker()
	srv, err := server.SetupServer(health, server.ServerConfig{
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
	}, collector, logger)
	if err != nil {
		return fmt.Errorf("failed to setup server: %w", err)
	}

	creds, opts := accountOptions(appConfig, logger, collector)
	opts.OnRefresh = health.ObserveRefresh

	accounts := hydrolink.NewRegistry(opts)
	account, err := accounts.Acquire(ctx, creds)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := accounts.Release(shutdownCtx, account.Username()); err != nil {
			logger.WithError(err).Warn("Account shutdown did not finish cleanly")
		}
	}()

	server.RegisterMetersServer(srv, server.NewMetersService(account))

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 2)

	go func() {
		logger.WithField("port", appConfig.Server.GRPCPort).Info("Starting gRPC server")
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	go func() {
		logger.WithField("port", appConfig.Server.MetricsPort).Info("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, stopping")
	case runErr = <-errChan:
		logger.WithError(runErr).Error("Service error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown failed")
	}
	srv.GracefulStop()
	logger.Info("Server stopped")

	return runErr
}
