package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"donationcore/internal/adapters/httpapi"
	"donationcore/internal/config"
	"donationcore/internal/core"
	"donationcore/internal/logging"
)

func loadConfig(cmd *cobra.Command) (config.Config, *logrus.Logger, error) {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides DONATIONCORE_HTTP_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svcs, err := core.NewServices(ctx, cfg, core.WithRegistry(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := svcs.Close(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()

	handler := httpapi.NewHandler(httpapi.Deps{
		Identities:    svcs.Identities,
		Institutions:  svcs.Institutions,
		Ledger:        svcs.Ledger,
		Resources:     svcs.Resources,
		Gatherer:      reg,
		Logger:        logger,
		CORSOrigins:   cfg.CORSOrigins,
		MaxUploadSize: cfg.MaxUploadSize,
	})
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	logger.WithFields(logrus.Fields{
		"addr":    ln.Addr().String(),
		"storage": cfg.StorageDriver,
		"blob":    svcs.Blobs.Driver(),
	}).Info("donationcore listening")
	if err := httpapi.Serve(ctx, srv, ln, cfg.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("donationcore stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the row store schema",
		Long: `migrate opens the configured row store, which applies the schema
idempotently, and exits. The memory driver has no schema.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	store, err := core.OpenPersistentStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("migrate: close: %w", err)
	}
	logger.WithField("storage", cfg.StorageDriver).Info("schema up to date")
	fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", cfg.StorageDriver)
	return nil
}
