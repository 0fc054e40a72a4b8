// Package main is the uav-api entry point: one process bridges one vehicle
// to HTTP.
//
//	uavapi                         run the bridge
//	uavapi token <subject> [scope] print a bearer token signed with UAV_API_AUTH_SECRET
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Project-GrADyS/uav-api/internal/api"
	"github.com/Project-GrADyS/uav-api/internal/audit"
	"github.com/Project-GrADyS/uav-api/internal/auth"
	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
	"github.com/Project-GrADyS/uav-api/internal/vehicle"
)

const (
	Version = "1.0.0"

	// tokenTTL is the lifetime of tokens printed by the token subcommand.
	tokenTTL = 24 * time.Hour
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Args[2:]); err != nil {
			log.Fatalf("token: %v", err)
		}
		return
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Step 1: Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Step 2: Initialize logging
	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	logger.Info("starting uav-api", "version", Version, "sysid", cfg.Vehicle.SystemID,
		"connection", cfg.Vehicle.Connection)

	// Step 3: Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Step 4: Initialize audit logger
	auditLogger, err := audit.NewLogger(cfg.Audit, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logger.Error("error closing audit logger", "error", err)
		}
	}()

	// Step 5: Start the vehicle (simulator, link, drain loop, relay)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := vehicle.New(cfg, vehicle.Deps{Metrics: m, Audit: auditLogger, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	if err := v.Start(ctx); err != nil {
		return fmt.Errorf("failed to start vehicle: %w", err)
	}

	// Step 6: Create API server
	var verifier *auth.Verifier
	if cfg.API.AuthSecret != "" {
		verifier, err = auth.NewVerifier(cfg.API.AuthSecret)
		if err != nil {
			shutdownVehicle(v, cfg, logger)
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
	} else {
		logger.Warn("api authentication disabled; set UAV_API_AUTH_SECRET to enable it")
	}
	server := api.NewServer(api.Deps{
		Gateway: v.Gateway(),
		State:   v.Store(),
		Stream:  v.Hub(),
		Health:  func() any { return v.Health() },
		Auth:    auth.NewMiddleware(verifier, logger),
		Metrics: m,
	}, cfg.API, logger)

	// Step 7: Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown signal, server error or link loss
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, initiating graceful shutdown")
	case err := <-serverErr:
		runErr = err
		logger.Error("server error", "error", err)
	case err := <-v.Err():
		runErr = err
		logger.Error("vehicle link lost", "error", err)
	}

	// Graceful shutdown: API first so no command races the link close
	if err := server.Stop(context.Background()); err != nil {
		logger.Error("error stopping HTTP server", "error", err)
	}
	shutdownVehicle(v, cfg, logger)

	logger.Info("uav-api shutdown complete")
	return runErr
}

func shutdownVehicle(v *vehicle.Vehicle, cfg *config.Config, logger *slog.Logger) {
	timeout := cfg.API.ShutdownTimeout + cfg.SITL.KillGrace
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := v.Shutdown(ctx); err != nil {
		logger.Error("vehicle shutdown incomplete", "error", err)
	}
}

func printToken(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: uavapi token <subject> [read|control ...]")
	}
	secret := os.Getenv("UAV_API_AUTH_SECRET")
	if secret == "" {
		return errors.New("UAV_API_AUTH_SECRET is not set")
	}
	scopes := args[1:]
	if len(scopes) == 0 {
		scopes = []string{auth.ScopeRead, auth.ScopeControl}
	}
	for _, s := range scopes {
		if s != auth.ScopeRead && s != auth.ScopeControl {
			return fmt.Errorf("unknown scope %q", s)
		}
	}

	tok, err := auth.IssueToken(secret, args[0], scopes, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
