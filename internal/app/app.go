// Package app wires the transport, inference, rollout, and logging
// subsystems into a running server, the way the reference server's own
// internal/app package assembles its hub and HTTP handler.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"fateinfer/internal/admin"
	"fateinfer/internal/observability"
	"fateinfer/internal/orchestrator"
	"fateinfer/internal/policy"
	"fateinfer/internal/rollout"
	"fateinfer/internal/telemetry"
	"fateinfer/internal/transport"
	"fateinfer/logging"
	"fateinfer/logging/sinks"

	"golang.org/x/sync/errgroup"
)

// Config collects everything cmd/server needs to start a run.
type Config struct {
	ListenPort     int
	SendPort       int
	Device         string
	ModelDir       string
	RolloutDir     string
	RolloutSize    int
	ReloadInterval time.Duration
	AdminAddr      string

	Logger        telemetry.Logger
	Observability observability.Config
}

// Run starts the UDP endpoint, the orchestrator loop, and the admin HTTP
// server, and blocks until ctx is cancelled or a subsystem fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	observabilityCfg := cfg.Observability
	if raw := os.Getenv("ENABLE_PPROF_TRACE"); raw != "" {
		if value, err := parseBool(raw); err == nil {
			observabilityCfg.EnablePprofTrace = value
		} else {
			telemetryLogger.Printf("invalid ENABLE_PPROF_TRACE=%q: %v", raw, err)
		}
	}

	logConfig := logging.DefaultConfig()
	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, []logging.NamedSink{
		{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout, logConfig.Console)},
	})
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	if cfg.Device == "cuda" {
		telemetryLogger.Printf("device=cuda requested, inference runs on cpu regardless")
	}

	endpoint, err := transport.Listen(transport.Config{
		ListenPort: cfg.ListenPort,
		SendPort:   cfg.SendPort,
		Logger:     telemetryLogger,
		Publisher:  router,
	})
	if err != nil {
		return fmt.Errorf("failed to open udp endpoint: %w", err)
	}
	defer endpoint.Close()

	engine := policy.NewEngine(cfg.ModelDir)

	writer, err := rollout.NewWriter(cfg.RolloutDir, router)
	if err != nil {
		return fmt.Errorf("failed to open rollout writer: %w", err)
	}

	loop := orchestrator.New(orchestrator.Config{
		Endpoint:       endpoint,
		Engine:         engine,
		Writer:         writer,
		RolloutSize:    cfg.RolloutSize,
		ReloadInterval: cfg.ReloadInterval,
		Logger:         telemetryLogger,
		Publisher:      router,
	})

	adminHandler := admin.NewHandler(admin.Config{
		Stats:            loop,
		Logger:           fallbackLogger,
		EnablePprofTrace: observabilityCfg.EnablePprofTrace,
	})
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminHandler}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		telemetryLogger.Printf("admin endpoint listening on %s", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return adminSrv.Close()
	})

	group.Go(func() error {
		telemetryLogger.Printf("inference server listening on :%d, replying on :%d", cfg.ListenPort, cfg.SendPort)
		return loop.Run(groupCtx)
	})

	return group.Wait()
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "1", "true", "TRUE", "True":
		return true, nil
	case "0", "false", "FALSE", "False":
		return false, nil
	default:
		return false, fmt.Errorf("not a bool: %q", raw)
	}
}
